package graph

import (
	"github.com/shaayud/shaayud/internal/domain"
)

// Statement names, used in logs and GraphTxError.
const (
	StmtUpsertCore  = "upsert_core"
	StmtLinkIP      = "link_ip"
	StmtLinkGeo     = "link_geo"
	StmtLinkIPGeo   = "link_ip_geo"
	StmtRecordScore = "record_score"
)

// upsertCore merges the identity, device, session and event chain.
// Device attributes and event type/ts are latest-wins; session and event
// enrichment fields only fill nulls; creation stamps are ON CREATE only.
var upsertCore = domain.Statement{
	Name: StmtUpsertCore,
	Cypher: `
MERGE (i:Identity {id: $identity_id})
  ON CREATE SET i.created_at = $now
SET i.user_id = coalesce(i.user_id, $identity_user_id)
MERGE (d:Device {id: $device_id})
  ON CREATE SET d.first_seen = $event_ts_iso
SET d.os = $device_os,
    d.browser = $device_browser,
    d.device_type = $device_type,
    d.last_seen = $event_ts_iso
MERGE (i)-[:USES]->(d)
MERGE (s:Session {id: $session_id})
  ON CREATE SET s.started_at = $session_started_at
SET s.ip = coalesce(s.ip, $ip),
    s.ua = coalesce(s.ua, $ua)
MERGE (d)-[:OPENED]->(s)
MERGE (e:Event {id: $event_id})
SET e.type = $event_type,
    e.ts = $event_ts,
    e.front_url = coalesce(e.front_url, $front_url),
    e.front_path = coalesce(e.front_path, $front_path),
    e.front_referrer = coalesce(e.front_referrer, $front_referrer),
    e.backend_path = coalesce(e.backend_path, $backend_path),
    e.backend_method = coalesce(e.backend_method, $backend_method),
    e.backend_host = coalesce(e.backend_host, $backend_host),
    e.ts_start = coalesce(e.ts_start, $ts_start),
    e.ts_end = coalesce(e.ts_end, $ts_end),
    e.viewport_w = coalesce(e.viewport_w, $viewport_w),
    e.viewport_h = coalesce(e.viewport_h, $viewport_h),
    e.points_deflate_b64 = coalesce(e.points_deflate_b64, $points_deflate_b64),
    e.click_count = coalesce(e.click_count, $click_count),
    e.wheel = coalesce(e.wheel, $wheel)
MERGE (s)-[:EMITTED]->(e)
`,
}

var linkIP = domain.Statement{
	Name: StmtLinkIP,
	Cypher: `
MATCH (s:Session {id: $session_id})
MERGE (ip:IP {addr: $ip})
MERGE (s)-[:FROM_IP]->(ip)
`,
}

var linkGeo = domain.Statement{
	Name: StmtLinkGeo,
	Cypher: `
MATCH (s:Session {id: $session_id})
MERGE (g:Geo {key: $geo_key})
SET g.country = coalesce(g.country, $geo_country),
    g.region = coalesce(g.region, $geo_region),
    g.city = coalesce(g.city, $geo_city),
    g.timezone = coalesce(g.timezone, $geo_timezone),
    g.latitude = coalesce(g.latitude, $geo_latitude),
    g.longitude = coalesce(g.longitude, $geo_longitude)
MERGE (s)-[:FROM_GEO]->(g)
`,
}

var linkIPGeo = domain.Statement{
	Name: StmtLinkIPGeo,
	Cypher: `
MATCH (ip:IP {addr: $ip})
MATCH (g:Geo {key: $geo_key})
MERGE (ip)-[:LOCATED_IN]->(g)
`,
}

// recordScore always creates a new Score node.
var recordScore = domain.Statement{
	Name: StmtRecordScore,
	Cypher: `
MATCH (e:Event {id: $event_id})
CREATE (sc:Score {
  id: $score_id,
  total: $score_total,
  matched: $score_matched,
  rule_set_version: $rule_set_version,
  verdict: $verdict,
  created_at: $now
})
CREATE (e)-[:SCORED]->(sc)
`,
}

// schemaStatements create the uniqueness constraints backing every MERGE key.
var schemaStatements = []string{
	`CREATE CONSTRAINT identity_id_unique IF NOT EXISTS FOR (n:Identity) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT device_id_unique IF NOT EXISTS FOR (n:Device) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT session_id_unique IF NOT EXISTS FOR (n:Session) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT event_id_unique IF NOT EXISTS FOR (n:Event) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT ip_addr_unique IF NOT EXISTS FOR (n:IP) REQUIRE n.addr IS UNIQUE`,
	`CREATE CONSTRAINT geo_key_unique IF NOT EXISTS FOR (n:Geo) REQUIRE n.key IS UNIQUE`,
	`CREATE CONSTRAINT score_id_unique IF NOT EXISTS FOR (n:Score) REQUIRE n.id IS UNIQUE`,
}

// Plan returns the statements one ingest executes, in order. IP and Geo
// statements are only included when the facts carry them.
func Plan(f *domain.Facts) []domain.Statement {
	plan := make([]domain.Statement, 0, 5)
	plan = append(plan, upsertCore)
	if f.HasIP() {
		plan = append(plan, linkIP)
	}
	if f.HasGeo() {
		plan = append(plan, linkGeo)
	}
	if f.HasIP() && f.HasGeo() {
		plan = append(plan, linkIPGeo)
	}
	return append(plan, recordScore)
}
