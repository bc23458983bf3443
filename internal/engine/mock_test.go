package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sells-group/prospector/pkg/places"
)

// scriptedProvider implements places.Client for testing. Pages are keyed
// by area name and 1-based page number; unscripted pages return zero
// results, matching the provider's behavior past the end of the data.
type scriptedProvider struct {
	mu    sync.Mutex
	pages map[string]places.SearchResponse
	errs  map[string][]error
	calls []places.SearchRequest

	// onCall runs after each call is recorded, with the running total.
	onCall func(n int, req places.SearchRequest)
}

func pageKey(area string, page int) string {
	return fmt.Sprintf("%s/%d", area, page)
}

func (p *scriptedProvider) script(area string, page int, resp places.SearchResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pages == nil {
		p.pages = make(map[string]places.SearchResponse)
	}
	p.pages[pageKey(area, page)] = resp
}

// failNext queues errors returned for the page before the scripted
// response, one per call.
func (p *scriptedProvider) failNext(area string, page int, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errs == nil {
		p.errs = make(map[string][]error)
	}
	key := pageKey(area, page)
	p.errs[key] = append(p.errs[key], errs...)
}

func (p *scriptedProvider) Search(_ context.Context, req places.SearchRequest) (*places.SearchResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	n := len(p.calls)
	key := pageKey(req.AreaName, req.Page)

	var err error
	if q := p.errs[key]; len(q) > 0 {
		err = q[0]
		p.errs[key] = q[1:]
	}
	resp, scripted := p.pages[key]
	hook := p.onCall
	p.mu.Unlock()

	if hook != nil {
		hook(n, req)
	}
	if err != nil {
		return nil, err
	}
	if !scripted {
		return &places.SearchResponse{}, nil
	}

	out := resp
	out.Results = append([]places.Listing(nil), resp.Results...)
	return &out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *scriptedProvider) callsFor(area string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.AreaName == area {
			n++
		}
	}
	return n
}

// makeListings fabricates n listings named uniquely per area and page,
// so refetching the same page collides on fingerprints while a later
// page never does.
func makeListings(area string, page, n int) []places.Listing {
	out := make([]places.Listing, n)
	for i := range out {
		out[i] = places.Listing{
			Name:         fmt.Sprintf("%s Studio %d-%d", area, page, i+1),
			Address:      fmt.Sprintf("%d Main St, %s", i+1, area),
			Phone:        "555-0100",
			Website:      fmt.Sprintf("https://studio-%d-%d.example.com", page, i+1),
			Rating:       4.2,
			ReviewsCount: 12,
		}
	}
	return out
}
