package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/coregx/tabula/internal/engine"
	"github.com/coregx/tabula/internal/logger"
)

// AuditLevel selects which operations the audit trail records.
type AuditLevel int

const (
	// AuditNone disables the audit trail.
	AuditNone AuditLevel = iota
	// AuditWrites records INSERT, UPDATE and DELETE statements.
	AuditWrites
	// AuditReads records SELECT statements on top of writes.
	AuditReads
	// AuditAll records every statement, DDL and utility commands included.
	AuditAll
)

type auditCtxKey int

const (
	auditUserKey auditCtxKey = iota
	auditRequestKey
)

// WithAuditUser tags ctx with the acting user. Audit entries for
// statements run under ctx carry the user.
func WithAuditUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, auditUserKey, user)
}

// WithAuditRequestID tags ctx with a request id, correlating audit
// entries with application traffic.
func WithAuditRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, auditRequestKey, id)
}

// newAuditHook returns a query hook writing one structured log entry
// per recorded statement. Parameter values never reach the log, only
// their digest does.
func newAuditHook(log logger.Logger, level AuditLevel) engine.QueryHook {
	return func(ctx context.Context, ev engine.QueryEvent) {
		if !auditRecords(level, ev.Operation) {
			return
		}
		args := []any{
			"operation", ev.Operation,
			"sql", ev.SQL,
			"rows", ev.RowsAffected,
			"duration", ev.Duration,
			"success", ev.Error == nil,
		}
		if len(ev.Params) > 0 {
			args = append(args, "params_sha256", hashParams(ev.Params))
		}
		if user, ok := ctx.Value(auditUserKey).(string); ok {
			args = append(args, "user", user)
		}
		if id, ok := ctx.Value(auditRequestKey).(string); ok {
			args = append(args, "request_id", id)
		}
		if ev.Error != nil {
			args = append(args, "error", ev.Error.Error())
			log.Warn("audit", args...)
			return
		}
		log.Info("audit", args...)
	}
}

func auditRecords(level AuditLevel, op string) bool {
	switch level {
	case AuditWrites:
		return op == "INSERT" || op == "UPDATE" || op == "DELETE"
	case AuditReads:
		return op == "SELECT" || op == "INSERT" || op == "UPDATE" || op == "DELETE"
	case AuditAll:
		return true
	default:
		return false
	}
}

// hashParams digests parameter values so identical invocations can be
// matched without storing the values themselves.
func hashParams(params []any) string {
	h := sha256.New()
	for _, p := range params {
		fmt.Fprintf(h, "%v|", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// chainHooks runs hooks in order, skipping nils.
func chainHooks(hooks ...engine.QueryHook) engine.QueryHook {
	return func(ctx context.Context, ev engine.QueryEvent) {
		for _, h := range hooks {
			if h != nil {
				h(ctx, ev)
			}
		}
	}
}
