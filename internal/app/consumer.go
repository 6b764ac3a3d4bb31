package app

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/store"
)

const (
	UserRegisteredRoutingKey = "user.registered"
	DefaultUserEventQueue    = "tickets_user_registered_queue"
)

// UserEventConsumer keeps the local owner projection in sync with the user service.
type UserEventConsumer struct {
	repo store.Repository
}

func NewUserEventConsumer(repo store.Repository) *UserEventConsumer {
	return &UserEventConsumer{repo: repo}
}

// HandleMessage upserts the registered user. Malformed payloads are acknowledged and
// dropped; storage failures re-queue the message.
func (c *UserEventConsumer) HandleMessage(body []byte) bool {
	event, err := parseUserRegistered(body)
	if err != nil {
		log.Printf("level=warn component=user-consumer msg=\"dropping malformed event\" err=%v", err)
		userEventsConsumed.WithLabelValues("dropped").Inc()
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	owner := domain.Owner{
		ID:        event.UserID,
		Email:     event.Email,
		FirstName: event.FirstName,
		LastName:  event.LastName,
	}
	if err := c.repo.UpsertOwner(ctx, owner); err != nil {
		log.Printf("level=error component=user-consumer msg=\"owner upsert failed\" user_id=%d err=%v", event.UserID, err)
		userEventsConsumed.WithLabelValues("requeued").Inc()
		return false
	}

	log.Printf("level=info component=user-consumer msg=\"owner projected\" user_id=%d", event.UserID)
	userEventsConsumed.WithLabelValues("projected").Inc()
	return true
}

// parseUserRegistered reads the event leniently: ids may be numbers or strings, and
// some producers nest the payload under "data".
func parseUserRegistered(body []byte) (domain.UserRegisteredEvent, error) {
	if !gjson.ValidBytes(body) {
		return domain.UserRegisteredEvent{}, fmt.Errorf("invalid json")
	}
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsObject() {
		root = data
	}

	idField := root.Get("userId")
	if !idField.Exists() {
		idField = root.Get("id")
	}
	var userID int64
	switch idField.Type {
	case gjson.Number:
		parsed, err := strconv.ParseInt(idField.Raw, 10, 64)
		if err != nil {
			return domain.UserRegisteredEvent{}, fmt.Errorf("user id %s is not an integer", idField.Raw)
		}
		userID = parsed
	case gjson.String:
		parsed, err := strconv.ParseInt(strings.TrimSpace(idField.Str), 10, 64)
		if err != nil {
			return domain.UserRegisteredEvent{}, fmt.Errorf("user id %q is not an integer", idField.Str)
		}
		userID = parsed
	}
	if userID <= 0 {
		return domain.UserRegisteredEvent{}, fmt.Errorf("missing user id")
	}

	email := strings.TrimSpace(root.Get("email").String())
	if email == "" {
		return domain.UserRegisteredEvent{}, fmt.Errorf("missing email for user %d", userID)
	}

	return domain.UserRegisteredEvent{
		UserID:    userID,
		Email:     email,
		FirstName: strings.TrimSpace(root.Get("firstName").String()),
		LastName:  strings.TrimSpace(root.Get("lastName").String()),
	}, nil
}
