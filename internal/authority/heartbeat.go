package authority

import (
	"time"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
	"github.com/danmuck/trustedbroker/internal/protocol/schema"
	"github.com/danmuck/trustedbroker/internal/protocol/tlv"
	"github.com/rs/zerolog"
)

const (
	StatusOK      = "ok"
	StatusRevoked = "revoked"

	reasonBudget = "heartbeat budget exhausted"
)

type heartbeatGenerator struct {
	auth *Authority
	log  zerolog.Logger
	seq  uint64
	now  func() time.Time
}

func newHeartbeatGenerator(a *Authority, streamID string) *heartbeatGenerator {
	return &heartbeatGenerator{
		auth: a,
		log:  a.log.With().Str("stream_id", streamID).Logger(),
		now:  time.Now,
	}
}

// GenerateHeartbeat emits the next beat. The beat is final when the authority
// is revoked or the stream reached its beat budget.
func (g *heartbeatGenerator) GenerateHeartbeat() (frame.Package, bool, error) {
	g.seq++
	revoked, reason := g.auth.Revocation()
	if !revoked && g.auth.revokeAfter > 0 && g.seq >= g.auth.revokeAfter {
		revoked, reason = true, reasonBudget
	}

	fields := []tlv.Field{
		tlv.U64(schema.FieldSequence, g.seq),
		tlv.U64(schema.FieldTimestampMS, uint64(g.now().UnixMilli())),
	}
	if revoked {
		fields = append(fields,
			tlv.String(schema.FieldStatus, StatusRevoked),
			tlv.String(schema.FieldReason, reason),
		)
		g.log.Warn().Uint64("sequence", g.seq).Str("reason", reason).Msg("issuing revocation heartbeat")
	} else {
		fields = append(fields, tlv.String(schema.FieldStatus, StatusOK))
	}

	pkg, err := schema.EncodePackage(frame.TypeHeartbeat, fields)
	if err != nil {
		return frame.Package{}, false, err
	}
	return pkg, revoked, nil
}
