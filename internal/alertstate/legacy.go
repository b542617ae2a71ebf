// Package alertstate keeps alert workflow state in the telemetry API's
// computed-attribute store, one JSON document per company. It predates the
// PostgreSQL store and stays available for installations without a database.
package alertstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fleetboard-backend/internal/upstream"
)

const stateDescription = "Fleet Alerts State (shared by company)"

// KeyForCompany is the attribute name holding a company's state document.
func KeyForCompany(company string) string {
	if company == "" {
		company = "default"
	}
	return "fleet.alerts.state." + strings.ToLower(company)
}

// LegacyStore reads and writes the per-company state documents using a fixed
// admin credential; end-user sessions cannot touch the attribute store.
type LegacyStore struct {
	upstream    *upstream.Client
	adminCookie string
	now         func() time.Time
}

func NewLegacyStore(client *upstream.Client, adminCookie string) *LegacyStore {
	return &LegacyStore{upstream: client, adminCookie: adminCookie, now: time.Now}
}

// Configured reports whether an admin credential was provided.
func (s *LegacyStore) Configured() bool {
	return s.adminCookie != ""
}

// Patch is one per-alert modification: arbitrary fields shallow-merged over
// the alert's current object.
type Patch struct {
	ID    string          `json:"id"`
	Patch json.RawMessage `json:"patch"`
}

// load finds the company's attribute. id 0 means no document exists yet.
func (s *LegacyStore) load(ctx context.Context, company string) (int64, map[string]map[string]any, error) {
	attrs, err := s.upstream.ComputedAttributes(ctx, s.adminCookie)
	if err != nil {
		return 0, nil, err
	}

	key := KeyForCompany(company)
	for _, a := range attrs {
		if a.Attribute != key {
			continue
		}
		state := map[string]map[string]any{}
		if a.Expression != "" {
			// a corrupt document is treated as empty rather than failing
			_ = json.Unmarshal([]byte(a.Expression), &state)
		}
		return a.ID, state, nil
	}
	return 0, map[string]map[string]any{}, nil
}

func (s *LegacyStore) save(ctx context.Context, company string, id int64, state map[string]map[string]any) (int64, error) {
	doc, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("alertstate: encode state: %w", err)
	}
	if id == 0 {
		created, err := s.upstream.CreateComputedAttribute(ctx, s.adminCookie, upstream.ComputedAttribute{
			Attribute:   KeyForCompany(company),
			Description: stateDescription,
			Expression:  string(doc),
		})
		if err != nil {
			return 0, err
		}
		return created.ID, nil
	}
	return id, s.upstream.UpdateComputedAttribute(ctx, s.adminCookie, id, string(doc))
}

// Get returns the requested alerts' state objects. Empty ids returns every
// alert in the company document; ids absent from the document are omitted.
func (s *LegacyStore) Get(ctx context.Context, company string, ids []string) (map[string]any, error) {
	_, state, err := s.load(ctx, company)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any)
	if len(ids) == 0 {
		for id, obj := range state {
			out[id] = obj
		}
		return out, nil
	}
	for _, id := range ids {
		if obj, ok := state[id]; ok {
			out[id] = obj
		}
	}
	return out, nil
}

// ApplyPatches shallow-merges each patch over its alert's object, stamping
// updatedAt/updatedBy and preserving the first takenBy/takenAt when the
// status moves to in_progress, then writes the document back. The returned
// count includes blank-id patches that were skipped.
func (s *LegacyStore) ApplyPatches(ctx context.Context, company, username string, patches []Patch) (int, error) {
	id, state, err := s.load(ctx, company)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC().Format(time.RFC3339)
	for _, p := range patches {
		alertID := strings.TrimSpace(p.ID)
		if alertID == "" {
			continue
		}

		patch := map[string]any{}
		if len(p.Patch) > 0 {
			// non-object patches are ignored, the stamps still apply
			_ = json.Unmarshal(p.Patch, &patch)
		}
		prev := state[alertID]
		if prev == nil {
			prev = map[string]any{}
		}

		merged := make(map[string]any, len(prev)+len(patch)+4)
		for k, v := range prev {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		merged["updatedAt"] = now
		merged["updatedBy"] = firstNonNil(stringOrNil(username), prev["updatedBy"])

		takenBy := prev["takenBy"]
		takenAt := prev["takenAt"]
		if isNil(takenBy) && patch["status"] == "in_progress" {
			takenBy = stringOrNil(username)
		}
		if isNil(takenAt) && patch["status"] == "in_progress" {
			takenAt = now
		}
		merged["takenBy"] = takenBy
		merged["takenAt"] = takenAt

		state[alertID] = merged
	}

	if _, err := s.save(ctx, company, id, state); err != nil {
		return 0, err
	}
	return len(patches), nil
}

func isNil(v any) bool {
	return v == nil
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
