package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/mslink/internal/auth"
	"github.com/MarcoPoloResearchLab/mslink/internal/users"
	"go.uber.org/zap"
)

var (
	// ErrAccountCreationDisabled rejects an identity that has never been seen
	// while auto-create is off. No state is mutated.
	ErrAccountCreationDisabled = errors.New("accounts: unknown identity and auto-create disabled")
	// ErrAccountConflict rejects a login whose email matches a user already
	// owning a different account of the same variant while auto-replace is
	// off. The existing link is left untouched.
	ErrAccountConflict = errors.New("accounts: user already linked to a different account")
)

// Policies are the per-attempt resolution policies. They come from the
// configuration snapshot current at the time of the attempt.
type Policies struct {
	AutoCreate          bool
	AutoReplaceAccounts bool
	SyncXboxUsername    bool
}

// ResolverConfig describes the dependencies required by the resolver.
type ResolverConfig struct {
	Store  *Store
	Users  *users.Service
	Logger *zap.Logger
}

// Resolver maps verified external identities to local users, creating and
// linking account records according to policy.
type Resolver struct {
	store  *Store
	users  *users.Service
	logger *zap.Logger
}

// NewResolver constructs the identity resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("accounts: store required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("accounts: user service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  cfg.Store,
		users:  cfg.Users,
		logger: logger,
	}, nil
}

// ResolveMicrosoft maps verified Microsoft claims to a local user.
func (r *Resolver) ResolveMicrosoft(ctx context.Context, identity auth.MicrosoftIdentity, policies Policies) (*users.User, error) {
	account, err := r.lookupMicrosoft(ctx, identity.SubjectID, policies)
	if err != nil {
		return nil, err
	}

	if account.Linked() {
		return r.users.FindByID(ctx, *account.UserID)
	}

	user, err := r.matchOrCreateMicrosoftUser(ctx, identity, policies)
	if err != nil {
		return nil, err
	}

	if err := r.store.SetMicrosoftOwner(ctx, account.MicrosoftID, user.ID); err != nil {
		return nil, err
	}
	r.logger.Info("microsoft account linked",
		zap.String("microsoft_id", account.MicrosoftID),
		zap.String("user_id", user.ID))
	return user, nil
}

func (r *Resolver) lookupMicrosoft(ctx context.Context, subjectID string, policies Policies) (*MicrosoftAccount, error) {
	account, err := r.store.FindMicrosoft(ctx, subjectID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	if !policies.AutoCreate {
		return nil, ErrAccountCreationDisabled
	}
	return r.store.GetOrCreateMicrosoft(ctx, subjectID)
}

// matchOrCreateMicrosoftUser finds an existing user by exact email match or
// creates a new one seeded from claims.
func (r *Resolver) matchOrCreateMicrosoftUser(ctx context.Context, identity auth.MicrosoftIdentity, policies Policies) (*users.User, error) {
	if identity.Email != "" {
		user, err := r.users.FindByEmail(ctx, identity.Email)
		if err == nil {
			return r.adoptExistingUser(ctx, user, identity, policies)
		}
		if !errors.Is(err, users.ErrUserNotFound) {
			return nil, err
		}
	}

	username := identity.PreferredUsername
	if username == "" {
		username = identity.SubjectID
	}
	return r.users.Create(ctx, username, identity.Email, identity.GivenName, identity.FamilyName)
}

// adoptExistingUser prepares an email-matched user for linking: names are
// backfilled when absent, and an existing link to a different Microsoft
// account is either replaced or reported per policy.
func (r *Resolver) adoptExistingUser(ctx context.Context, user *users.User, identity auth.MicrosoftIdentity, policies Policies) (*users.User, error) {
	if !user.HasNames() && (identity.GivenName != "" || identity.FamilyName != "") {
		if err := r.users.UpdateNames(ctx, user, identity.GivenName, identity.FamilyName); err != nil {
			return nil, err
		}
	}

	existing, err := r.store.FindMicrosoftByOwner(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return user, nil
		}
		return nil, err
	}
	if existing.MicrosoftID == identity.SubjectID {
		return user, nil
	}

	if !policies.AutoReplaceAccounts {
		return nil, fmt.Errorf("%w: user %s owns microsoft account %s", ErrAccountConflict, user.ID, existing.MicrosoftID)
	}

	if err := r.store.ClearMicrosoftOwner(ctx, existing.MicrosoftID); err != nil {
		return nil, err
	}
	r.logger.Info("microsoft account replaced",
		zap.String("user_id", user.ID),
		zap.String("detached_microsoft_id", existing.MicrosoftID))
	return user, nil
}

// ResolveXbox maps an Xbox Live profile to a local user. Xbox identities
// carry no email or names, so an unlinked account always gets a brand-new
// user named after the gamertag.
func (r *Resolver) ResolveXbox(ctx context.Context, identity auth.XboxIdentity, policies Policies) (*users.User, error) {
	account, err := r.lookupXbox(ctx, identity, policies)
	if err != nil {
		return nil, err
	}

	// Gamertags change upstream; keep ours fresh independent of the linking
	// outcome.
	if account.Gamertag != identity.Gamertag {
		if err := r.store.UpdateGamertag(ctx, account.XboxID, identity.Gamertag); err != nil {
			return nil, err
		}
		account.Gamertag = identity.Gamertag
	}

	if account.Linked() {
		user, err := r.users.FindByID(ctx, *account.UserID)
		if err != nil {
			return nil, err
		}
		if policies.SyncXboxUsername && user.Username != account.Gamertag {
			if err := r.users.UpdateUsername(ctx, user, account.Gamertag); err != nil {
				return nil, err
			}
		}
		return user, nil
	}

	user, err := r.users.Create(ctx, account.Gamertag, "", "", "")
	if err != nil {
		return nil, err
	}
	if err := r.store.SetXboxOwner(ctx, account.XboxID, user.ID); err != nil {
		return nil, err
	}
	r.logger.Info("xbox live account linked",
		zap.String("xbox_id", account.XboxID),
		zap.String("user_id", user.ID))
	return user, nil
}

func (r *Resolver) lookupXbox(ctx context.Context, identity auth.XboxIdentity, policies Policies) (*XboxLiveAccount, error) {
	account, err := r.store.FindXbox(ctx, identity.XboxID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	if !policies.AutoCreate {
		return nil, ErrAccountCreationDisabled
	}
	return r.store.GetOrCreateXbox(ctx, identity.XboxID, identity.Gamertag)
}
