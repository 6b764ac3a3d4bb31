package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/store"
	"github.com/urbantransit/ticket-service/pkg/userclient"
)

// IdentityResolver answers who owns a ticket and who an email belongs to.
// Both methods return ErrOwnerNotFound when the user is unknown.
type IdentityResolver interface {
	FindOwnerByID(ctx context.Context, ownerID int64) (*domain.Owner, error)
	FindOwnerByEmail(ctx context.Context, email string) (*domain.Owner, error)
}

// UserDirectory is the remote user lookup, satisfied by *userclient.Client.
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID int64) (*userclient.User, error)
	GetUserByEmail(ctx context.Context, email string) (*userclient.User, error)
}

// OwnerDirectory resolves owners from the local projection and, when configured,
// falls back to the user service. Remote hits are written back to the projection.
type OwnerDirectory struct {
	repo   store.Repository
	remote UserDirectory
}

// NewOwnerDirectory creates a resolver. remote may be nil.
func NewOwnerDirectory(repo store.Repository, remote UserDirectory) *OwnerDirectory {
	return &OwnerDirectory{repo: repo, remote: remote}
}

func (d *OwnerDirectory) FindOwnerByID(ctx context.Context, ownerID int64) (*domain.Owner, error) {
	owner, err := d.repo.FindOwnerByID(ctx, ownerID)
	if err == nil {
		return owner, nil
	}
	if !errors.Is(err, store.ErrOwnerNotFound) {
		return nil, fmt.Errorf("find owner %d: %w", ownerID, err)
	}
	if d.remote == nil {
		return nil, ErrOwnerNotFound
	}

	user, err := d.remote.GetUserByID(ctx, ownerID)
	return d.adopt(ctx, user, err)
}

func (d *OwnerDirectory) FindOwnerByEmail(ctx context.Context, email string) (*domain.Owner, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrOwnerNotFound
	}
	owner, err := d.repo.FindOwnerByEmail(ctx, email)
	if err == nil {
		return owner, nil
	}
	if !errors.Is(err, store.ErrOwnerNotFound) {
		return nil, fmt.Errorf("find owner by email: %w", err)
	}
	if d.remote == nil {
		return nil, ErrOwnerNotFound
	}

	user, err := d.remote.GetUserByEmail(ctx, email)
	return d.adopt(ctx, user, err)
}

func (d *OwnerDirectory) adopt(ctx context.Context, user *userclient.User, err error) (*domain.Owner, error) {
	if err != nil {
		if errors.Is(err, userclient.ErrUserNotFound) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("user service lookup: %w", err)
	}
	id, err := user.NumericID()
	if err != nil || id <= 0 {
		return nil, ErrOwnerNotFound
	}

	owner := domain.Owner{ID: id, Email: user.Email, FirstName: user.FirstName, LastName: user.LastName}
	if err := d.repo.UpsertOwner(ctx, owner); err != nil {
		log.Printf("level=warn component=app msg=\"owner projection write-back failed\" owner_id=%d err=%v", id, err)
	}
	return &owner, nil
}
