package graph

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"sync"

	"github.com/shaayud/shaayud/internal/domain"
)

var paramRef = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

type nodeRef struct {
	label string
	key   string
}

type edgeRef struct {
	from nodeRef
	rel  string
	to   nodeRef
}

// MemoryStore is an in-process identity graph that applies the same merge policy
// as the Cypher statements. Statements are buffered per transaction and applied
// atomically on commit.
type MemoryStore struct {
	mu      sync.RWMutex
	nodes   map[nodeRef]map[string]any
	edges   map[edgeRef]struct{}
	out     map[nodeRef]map[string][]nodeRef
	commits int
	closed  bool
}

// NewMemoryStore creates an empty graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[nodeRef]map[string]any),
		edges: make(map[edgeRef]struct{}),
		out:   make(map[nodeRef]map[string][]nodeRef),
	}
}

// Begin starts a buffered transaction.
func (s *MemoryStore) Begin(ctx context.Context) (domain.GraphTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("graph store is closed")
	}
	return &memoryTx{store: s}, nil
}

// Ping checks store health.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("graph store is closed")
	}
	return nil
}

// Close rejects further transactions.
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Node returns a copy of a node's properties.
func (s *MemoryStore) Node(label, key string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, ok := s.nodes[nodeRef{label, key}]
	if !ok {
		return nil, false
	}
	return maps.Clone(props), true
}

// Count returns the number of nodes with label.
func (s *MemoryStore) Count(label string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for ref := range s.nodes {
		if ref.label == label {
			n++
		}
	}
	return n
}

// EdgeCount returns the number of relationships of type rel.
func (s *MemoryStore) EdgeCount(rel string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for e := range s.edges {
		if e.rel == rel {
			n++
		}
	}
	return n
}

// HasEdge reports whether (fromLabel {fromKey})-[rel]->(toLabel {toKey}) exists.
func (s *MemoryStore) HasEdge(fromLabel, fromKey, rel, toLabel, toKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edgeRef{nodeRef{fromLabel, fromKey}, rel, nodeRef{toLabel, toKey}}]
	return ok
}

// Scores returns the Score nodes linked from an event, oldest first.
func (s *MemoryStore) Scores(eventID string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.out[nodeRef{"Event", eventID}]["SCORED"]
	out := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		out = append(out, maps.Clone(s.nodes[ref]))
	}
	return out
}

// Commits returns the number of committed transactions.
func (s *MemoryStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// memoryTx buffers statement applications until commit.
type memoryTx struct {
	store *MemoryStore
	ops   []func(*MemoryStore)
	done  bool
}

func (t *memoryTx) Run(ctx context.Context, stmt domain.Statement, params map[string]any) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, m := range paramRef.FindAllStringSubmatch(stmt.Cypher, -1) {
		if _, ok := params[m[1]]; !ok {
			return fmt.Errorf("expected parameter: %s", m[1])
		}
	}

	p := maps.Clone(params)
	switch stmt.Name {
	case StmtUpsertCore:
		t.ops = append(t.ops, func(s *MemoryStore) { s.applyCore(p) })
	case StmtLinkIP:
		t.ops = append(t.ops, func(s *MemoryStore) { s.applyLinkIP(p) })
	case StmtLinkGeo:
		t.ops = append(t.ops, func(s *MemoryStore) { s.applyLinkGeo(p) })
	case StmtLinkIPGeo:
		t.ops = append(t.ops, func(s *MemoryStore) { s.applyLinkIPGeo(p) })
	case StmtRecordScore:
		t.ops = append(t.ops, func(s *MemoryStore) { s.applyRecordScore(p) })
	default:
		return fmt.Errorf("unsupported statement: %s", stmt.Name)
	}
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	if err := ctx.Err(); err != nil {
		return err
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return fmt.Errorf("graph store is closed")
	}
	for _, op := range t.ops {
		op(t.store)
	}
	t.store.commits++
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	t.done = true
	t.ops = nil
	return nil
}

// Statement semantics. Callers hold s.mu.

func (s *MemoryStore) applyCore(p map[string]any) {
	identity := s.merge("Identity", p["identity_id"], func(props map[string]any) {
		set(props, "created_at", p["now"])
	})
	coalesce(s.nodes[identity], "user_id", p["identity_user_id"])

	device := s.merge("Device", p["device_id"], func(props map[string]any) {
		set(props, "first_seen", p["event_ts_iso"])
	})
	dp := s.nodes[device]
	set(dp, "os", p["device_os"])
	set(dp, "browser", p["device_browser"])
	set(dp, "device_type", p["device_type"])
	set(dp, "last_seen", p["event_ts_iso"])
	s.link(identity, "USES", device)

	session := s.merge("Session", p["session_id"], func(props map[string]any) {
		set(props, "started_at", p["session_started_at"])
	})
	sp := s.nodes[session]
	coalesce(sp, "ip", p["ip"])
	coalesce(sp, "ua", p["ua"])
	s.link(device, "OPENED", session)

	event := s.merge("Event", p["event_id"], nil)
	ep := s.nodes[event]
	set(ep, "type", p["event_type"])
	set(ep, "ts", p["event_ts"])
	for _, k := range []string{
		"front_url", "front_path", "front_referrer",
		"backend_path", "backend_method", "backend_host",
		"ts_start", "ts_end", "viewport_w", "viewport_h",
		"points_deflate_b64", "click_count", "wheel",
	} {
		coalesce(ep, k, p[k])
	}
	s.link(session, "EMITTED", event)
}

func (s *MemoryStore) applyLinkIP(p map[string]any) {
	session, ok := s.match("Session", p["session_id"])
	if !ok {
		return
	}
	ip := s.merge("IP", p["ip"], nil)
	s.link(session, "FROM_IP", ip)
}

func (s *MemoryStore) applyLinkGeo(p map[string]any) {
	session, ok := s.match("Session", p["session_id"])
	if !ok {
		return
	}
	geo := s.merge("Geo", p["geo_key"], nil)
	gp := s.nodes[geo]
	for _, k := range []string{"country", "region", "city", "timezone", "latitude", "longitude"} {
		coalesce(gp, k, p["geo_"+k])
	}
	s.link(session, "FROM_GEO", geo)
}

func (s *MemoryStore) applyLinkIPGeo(p map[string]any) {
	ip, ok := s.match("IP", p["ip"])
	if !ok {
		return
	}
	geo, ok := s.match("Geo", p["geo_key"])
	if !ok {
		return
	}
	s.link(ip, "LOCATED_IN", geo)
}

func (s *MemoryStore) applyRecordScore(p map[string]any) {
	event, ok := s.match("Event", p["event_id"])
	if !ok {
		return
	}
	score := nodeRef{"Score", fmt.Sprint(p["score_id"])}
	s.nodes[score] = map[string]any{
		"id":               p["score_id"],
		"total":            p["score_total"],
		"matched":          p["score_matched"],
		"rule_set_version": p["rule_set_version"],
		"verdict":          p["verdict"],
		"created_at":       p["now"],
	}
	s.link(event, "SCORED", score)
}

// merge finds or creates the node and runs onCreate for new nodes.
func (s *MemoryStore) merge(label string, key any, onCreate func(map[string]any)) nodeRef {
	ref := nodeRef{label, fmt.Sprint(key)}
	if _, ok := s.nodes[ref]; !ok {
		props := map[string]any{keyProperty(label): key}
		if onCreate != nil {
			onCreate(props)
		}
		s.nodes[ref] = props
	}
	return ref
}

func (s *MemoryStore) match(label string, key any) (nodeRef, bool) {
	if key == nil {
		return nodeRef{}, false
	}
	ref := nodeRef{label, fmt.Sprint(key)}
	_, ok := s.nodes[ref]
	return ref, ok
}

func (s *MemoryStore) link(from nodeRef, rel string, to nodeRef) {
	e := edgeRef{from, rel, to}
	if _, ok := s.edges[e]; ok {
		return
	}
	s.edges[e] = struct{}{}
	if s.out[from] == nil {
		s.out[from] = make(map[string][]nodeRef)
	}
	s.out[from][rel] = append(s.out[from][rel], to)
}

func keyProperty(label string) string {
	switch label {
	case "IP":
		return "addr"
	case "Geo":
		return "key"
	default:
		return "id"
	}
}

// set mirrors Cypher SET: assigning null removes the property.
func set(props map[string]any, k string, v any) {
	if v == nil {
		delete(props, k)
		return
	}
	props[k] = v
}

// coalesce mirrors SET p = coalesce(p, $v).
func coalesce(props map[string]any, k string, v any) {
	if existing, ok := props[k]; ok && existing != nil {
		return
	}
	set(props, k, v)
}
