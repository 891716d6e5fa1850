package sensor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"sentinel-antinuke/internal/guild"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/singleflight"
)

// auditResolver attributes gateway events to an executor. Concurrent lookups
// for the same guild and audit kind share one REST call.
type auditResolver struct {
	source AuditSource
	limit  int
	group  singleflight.Group

	mu      sync.Mutex
	claimed map[string]time.Time
}

type AuditSource interface {
	AuditLog(ctx context.Context, guildID string, kind discordgo.AuditLogAction, limit int) ([]guild.AuditEntry, error)
}

func newAuditResolver(source AuditSource, limit int) *auditResolver {
	if limit <= 0 {
		limit = 10
	}
	return &auditResolver{source: source, limit: limit, claimed: make(map[string]time.Time)}
}

// resolve finds the newest unclaimed entry for targetID (any target when
// empty) created within lookback of now. A shared fetch that predates the
// event gets one private retry.
func (r *auditResolver) resolve(ctx context.Context, guildID string, kind discordgo.AuditLogAction, targetID string, lookback time.Duration, now time.Time) (guild.AuditEntry, bool, error) {
	key := guildID + ":" + strconv.Itoa(int(kind))
	value, err, shared := r.group.Do(key, func() (any, error) {
		return r.source.AuditLog(ctx, guildID, kind, r.limit)
	})
	if err != nil {
		return guild.AuditEntry{}, false, err
	}
	entries, _ := value.([]guild.AuditEntry)
	if entry, ok := r.match(entries, targetID, lookback, now); ok {
		return entry, true, nil
	}
	if !shared {
		return guild.AuditEntry{}, false, nil
	}

	entries, err = r.source.AuditLog(ctx, guildID, kind, r.limit)
	if err != nil {
		return guild.AuditEntry{}, false, err
	}
	entry, ok := r.match(entries, targetID, lookback, now)
	return entry, ok, nil
}

func (r *auditResolver) match(entries []guild.AuditEntry, targetID string, lookback time.Duration, now time.Time) (guild.AuditEntry, bool) {
	for _, entry := range entries {
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		if !entry.CreatedAt.IsZero() && now.Sub(entry.CreatedAt) > lookback {
			continue
		}
		if r.claimedEntry(entry.ID) {
			continue
		}
		return entry, true
	}
	return guild.AuditEntry{}, false
}

func (r *auditResolver) claimedEntry(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.claimed[id]
	return ok
}

// claim marks an audit entry as attributed. It reports false when another
// event already took it.
func (r *auditResolver) claim(id string, now time.Time) bool {
	if id == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[id]; ok {
		return false
	}
	r.claimed[id] = now
	if len(r.claimed) > 1024 {
		for key, at := range r.claimed {
			if now.Sub(at) > 2*time.Hour {
				delete(r.claimed, key)
			}
		}
	}
	return true
}
