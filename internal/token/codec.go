// Package token mints and decodes the opaque strings printed in ticket QR codes.
//
// A token embeds the ticket id, the owner, the fare type, the purchase instant and a
// random nonce, so two tickets can never share one. Decoding is best effort: the store
// stays the source of truth and a token never grants access on its own.
package token

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	prefix      = "TKT1."
	legacyStart = "TICKET-"
	kindTicket  = "TICKET"
)

// Claims is what a token carries. Fields are zero when absent or unreadable.
type Claims struct {
	TicketID    int64     `json:"ticketId,string,omitempty"`
	OwnerID     int64     `json:"userId,string,omitempty"`
	FareType    string    `json:"ticketType,omitempty"`
	PurchasedAt time.Time `json:"purchaseDate,omitempty"`
	Nonce       string    `json:"uniqueCode,omitempty"`
	Kind        string    `json:"type,omitempty"`
}

// HasTicketID reports whether decoding recovered a usable ticket id.
func (c Claims) HasTicketID() bool {
	return c.TicketID > 0
}

// Mint builds the token for a ticket.
func Mint(ticketID, ownerID int64, fareType string, purchasedAt time.Time, nonce string) string {
	claims := Claims{
		TicketID:    ticketID,
		OwnerID:     ownerID,
		FareType:    fareType,
		PurchasedAt: purchasedAt.UTC(),
		Nonce:       nonce,
		Kind:        kindTicket,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		// Claims only holds strings, ints and a time, so this is unreachable in practice.
		return legacyStart + strconv.FormatInt(ticketID, 10) + "-" + nonce
	}
	return prefix + base64.RawURLEncoding.EncodeToString(payload)
}

// Decode extracts whatever it can from a token and never fails.
func Decode(raw string) Claims {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Claims{}
	case strings.HasPrefix(raw, prefix):
		payload, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, prefix))
		if err != nil {
			return Claims{}
		}
		return decodeJSON(payload)
	case strings.HasPrefix(raw, "{"):
		return decodeJSON([]byte(raw))
	case strings.HasPrefix(raw, legacyStart):
		return decodeLegacy(strings.TrimPrefix(raw, legacyStart))
	default:
		return Claims{}
	}
}

// decodeJSON tolerates ids written either as strings or as numbers.
func decodeJSON(payload []byte) Claims {
	if !gjson.ValidBytes(payload) {
		return Claims{}
	}
	fields := gjson.GetManyBytes(payload, "ticketId", "userId", "ticketType", "uniqueCode", "type", "purchaseDate")
	c := Claims{
		TicketID: looseInt(fields[0]),
		OwnerID:  looseInt(fields[1]),
		FareType: looseString(fields[2]),
		Nonce:    looseString(fields[3]),
		Kind:     looseString(fields[4]),
	}
	if ts := looseString(fields[5]); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			c.PurchasedAt = parsed
		}
	}
	return c
}

func decodeLegacy(rest string) Claims {
	idPart, nonce, _ := strings.Cut(rest, "-")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Claims{}
	}
	return Claims{TicketID: id, Nonce: nonce, Kind: kindTicket}
}

func looseInt(r gjson.Result) int64 {
	var digits string
	switch r.Type {
	case gjson.Number:
		digits = r.Raw
	case gjson.String:
		digits = strings.TrimSpace(r.Str)
	default:
		return 0
	}
	parsed, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func looseString(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}
