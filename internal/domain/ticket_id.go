package domain

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// TicketIDPrefix marks every externally visible ticket identifier.
const TicketIDPrefix = "TKT-"

const ticketIDSuffixLen = 3

// NewTicketID builds "TKT-" + base36(epoch ms) + a three character base36 random suffix.
// Uniqueness is the store's job; callers retry on a duplicate.
func NewTicketID(now time.Time) string {
	stamp := strconv.FormatInt(now.UnixMilli(), 36)
	suffix := strconv.FormatInt(rand.Int64N(36*36*36), 36)
	if len(suffix) < ticketIDSuffixLen {
		suffix = strings.Repeat("0", ticketIDSuffixLen-len(suffix)) + suffix
	}
	return TicketIDPrefix + strings.ToUpper(stamp+suffix)
}
