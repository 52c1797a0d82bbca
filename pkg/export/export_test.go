package export

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/batch"
	"github.com/cometsec/comet/pkg/clean"
	"github.com/cometsec/comet/pkg/config"
	"github.com/cometsec/comet/pkg/retry"
	"github.com/cometsec/comet/pkg/telemetry"
	"github.com/cometsec/comet/pkg/types"
)

// slicePager serves canned pages and optionally an error once the pages
// run out.
type slicePager struct {
	pages [][]map[string]any
	err   error
	idx   int
	done  bool
}

func (p *slicePager) More() bool { return !p.done }

func (p *slicePager) NextPage(ctx context.Context) (azure.Page, error) {
	if p.idx < len(p.pages) {
		items := p.pages[p.idx]
		p.idx++
		if p.idx == len(p.pages) && p.err == nil {
			p.done = true
		}
		return azure.Page{Items: items}, nil
	}
	p.done = true
	return azure.Page{}, p.err
}

func pagerOf(pages ...[]map[string]any) *slicePager {
	return &slicePager{pages: pages}
}

func failingPager(status int, pages ...[]map[string]any) *slicePager {
	return &slicePager{pages: pages, err: &azure.StatusError{StatusCode: status, Status: "failed"}}
}

// fakeSources serves canned pagers. Graph and ARM pagers are selected by
// URL substring.
type fakeSources struct {
	tokenErr   error
	tokenCalls int

	tenant    azure.TenantDetails
	tenantErr error

	graph map[string]azure.Pager
	arm   map[string]azure.Pager

	subRecords map[string]map[string]any
	resources  map[string]azure.Pager
	rgs        map[string]azure.Pager
	roleDefs   map[string]azure.Pager
	roleAssign map[string]azure.Pager
	polDefs    map[string]azure.Pager
	polAssign  map[string]azure.Pager
	polExempt  map[string]azure.Pager

	graphCalls int
	armCalls   int
	dataCalls  int
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		tenant:     azure.TenantDetails{Name: "Contoso", ID: "t1"},
		graph:      map[string]azure.Pager{},
		arm:        map[string]azure.Pager{},
		subRecords: map[string]map[string]any{},
		resources:  map[string]azure.Pager{},
		rgs:        map[string]azure.Pager{},
		roleDefs:   map[string]azure.Pager{},
		roleAssign: map[string]azure.Pager{},
		polDefs:    map[string]azure.Pager{},
		polAssign:  map[string]azure.Pager{},
		polExempt:  map[string]azure.Pager{},
	}
}

func (f *fakeSources) Token(ctx context.Context, audience string) (string, error) {
	f.tokenCalls++
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "test-token", nil
}

func (f *fakeSources) Tenant(ctx context.Context) (azure.TenantDetails, error) {
	return f.tenant, f.tenantErr
}

func (f *fakeSources) pagerFor(m map[string]azure.Pager, url string) azure.Pager {
	for key, pager := range m {
		if strings.Contains(url, key) {
			return pager
		}
	}
	return pagerOf()
}

func (f *fakeSources) GraphPages(url string) azure.Pager {
	f.graphCalls++
	f.dataCalls++
	return f.pagerFor(f.graph, url)
}

func (f *fakeSources) ARMPages(url string) azure.Pager {
	f.armCalls++
	f.dataCalls++
	return f.pagerFor(f.arm, url)
}

func (f *fakeSources) Subscription(ctx context.Context, id string) (map[string]any, error) {
	f.dataCalls++
	if rec, ok := f.subRecords[id]; ok {
		return rec, nil
	}
	return nil, &azure.StatusError{StatusCode: 404, Status: "not found"}
}

func (f *fakeSources) lookup(m map[string]azure.Pager, key string) (azure.Pager, error) {
	f.dataCalls++
	if pager, ok := m[key]; ok {
		return pager, nil
	}
	return pagerOf(), nil
}

func (f *fakeSources) Resources(id string) (azure.Pager, error)       { return f.lookup(f.resources, id) }
func (f *fakeSources) ResourceGroups(id string) (azure.Pager, error)  { return f.lookup(f.rgs, id) }
func (f *fakeSources) RoleDefinitions(s string) (azure.Pager, error)  { return f.lookup(f.roleDefs, s) }
func (f *fakeSources) RoleAssignments(id string) (azure.Pager, error) { return f.lookup(f.roleAssign, id) }
func (f *fakeSources) PolicyDefinitions(id string) (azure.Pager, error) {
	return f.lookup(f.polDefs, id)
}
func (f *fakeSources) PolicyAssignments(id string) (azure.Pager, error) {
	return f.lookup(f.polAssign, id)
}
func (f *fakeSources) PolicyExemptions(id string) (azure.Pager, error) {
	return f.lookup(f.polExempt, id)
}

// captureSink records delivered batches; script can fail chosen calls.
type captureSink struct {
	batches []*batch.Batch
	calls   int
	script  func(call int) error
}

func (s *captureSink) Send(ctx context.Context, b *batch.Batch) error {
	s.calls++
	if s.script != nil {
		if err := s.script(s.calls); err != nil {
			return err
		}
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *captureSink) Target() string { return "capture" }

// fakeStore records markers in memory.
type fakeStore struct {
	markers map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{markers: map[string]time.Time{}}
}

func (s *fakeStore) LastRun(scope string) (time.Time, error) {
	return s.markers[scope], nil
}

func (s *fakeStore) RecordRun(scope string, completed time.Time) error {
	s.markers[scope] = completed
	return nil
}

func testLimits() batch.Limits {
	return batch.Limits{
		TargetBytes:     config.DefaultBatchTargetBytes,
		HardCapBytes:    config.DefaultBatchHardCapBytes,
		SingleItemBytes: config.DefaultBatchSingleItemBytes,
	}
}

func testOrchestrator(sources Sources, sink Transmitter, opts config.ExportOptions) *orchestrator {
	return &orchestrator{
		sources:  sources,
		sink:     sink,
		cleaner:  clean.NewCleaner(),
		tracker:  telemetry.NewTracker(),
		limits:   testLimits(),
		sendExec: retry.New(1, time.Millisecond, 2*time.Millisecond, azure.Classify),
		authExec: retry.New(1, time.Millisecond, 2*time.Millisecond, azure.Classify),
		pageSize: 999,
		opts:     opts,
		sleep:    func(time.Duration) {},
	}
}

func testConfig(subIDs ...string) *config.Config {
	subs := make([]config.Subscription, 0, len(subIDs))
	for i, id := range subIDs {
		subs = append(subs, config.Subscription{ID: id, Priority: i})
	}
	return &config.Config{
		TenantID:      "t1",
		Subscriptions: subs,
		Batch: config.BatchLimits{
			TargetBytes:     config.DefaultBatchTargetBytes,
			HardCapBytes:    config.DefaultBatchHardCapBytes,
			SingleItemBytes: config.DefaultBatchSingleItemBytes,
		},
		Retry: config.RetryPolicy{MaxAttempts: 1, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
		Fetch: config.FetchOptions{PageSize: 999},
	}
}

func directoryScope() types.Scope {
	return types.Scope{Kind: types.ScopeDirectory, TenantID: "t1"}
}

func subscriptionScope(id string) types.Scope {
	return types.Scope{Kind: types.ScopeSubscription, TenantID: "t1", SubscriptionID: id}
}

// decodeEnvelopes flattens the captured batches back into envelope maps,
// preserving send order.
func decodeEnvelopes(t *testing.T, batches []*batch.Batch) []map[string]any {
	t.Helper()
	var envelopes []map[string]any
	for _, b := range batches {
		var page []map[string]any
		require.NoError(t, json.Unmarshal(b.Payload(), &page))
		envelopes = append(envelopes, page...)
	}
	return envelopes
}

func recordIDs(envelopes []map[string]any) []string {
	var ids []string
	for _, env := range envelopes {
		record, _ := env["record"].(map[string]any)
		if id, ok := record["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
