package geocoder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

func TestNominatim_Lookup(t *testing.T) {
	var mu sync.Mutex
	var gotUA, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		assert.Equal(t, "/reverse", r.URL.Path)
		_, _ = w.Write([]byte(`{"display_name":"Rue Sainte-Catherine, Ville-Marie, Montréal, Québec, Canada",
			"address":{"suburb":"Ville-Marie","city":"Montréal","state":"Québec","country":"Canada"}}`))
	}))
	defer srv.Close()

	g := NewNominatim(Options{BaseURL: srv.URL + "/", UserAgent: "fieldtrack-test", Timeout: time.Second, RatePerSecond: 100})
	p := g.Lookup(context.Background(), 45.5017, -73.5673)
	require.NotNil(t, p)
	assert.Equal(t, "Montréal", p.Name)
	assert.Equal(t, "Ville-Marie", p.Suburb)
	assert.Equal(t, "Québec", p.Region)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "fieldtrack-test", gotUA)
	assert.Contains(t, gotQuery, "format=jsonv2")
	assert.Contains(t, gotQuery, "addressdetails=1")
}

func TestToPlace_NamePreference(t *testing.T) {
	mk := func(fn func(r *reverseResponse)) reverseResponse {
		var r reverseResponse
		fn(&r)
		return r
	}
	cases := []struct {
		name string
		resp reverseResponse
		want string
	}{
		{"town", mk(func(r *reverseResponse) { r.Address.Town = "Bromont"; r.Address.County = "Brome" }), "Bromont"},
		{"village", mk(func(r *reverseResponse) { r.Address.Village = "Sutton"; r.Address.Country = "Canada" }), "Sutton"},
		{"suburb", mk(func(r *reverseResponse) { r.Address.Suburb = "Plateau"; r.Address.State = "QC" }), "Plateau"},
		{"county", mk(func(r *reverseResponse) { r.Address.County = "Brome"; r.Address.State = "QC" }), "Brome"},
		{"state", mk(func(r *reverseResponse) { r.Address.State = "QC"; r.Address.Country = "Canada" }), "QC"},
		{"country", mk(func(r *reverseResponse) { r.Address.Country = "Canada" }), "Canada"},
		{"display", mk(func(r *reverseResponse) { r.DisplayName = "Atlantic Ocean, somewhere" }), "Atlantic Ocean"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := toPlace(tc.resp)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Name)
		})
	}

	_, err := toPlace(reverseResponse{})
	assert.Error(t, err)
}

func TestNominatim_FailuresReturnNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("lat") {
		case "1":
			w.WriteHeader(http.StatusInternalServerError)
		case "2":
			_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
		case "3":
			time.Sleep(200 * time.Millisecond)
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	g := NewNominatim(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, RatePerSecond: 1000})
	for _, lat := range []float64{1, 2, 3, 4} {
		assert.Nil(t, g.Lookup(context.Background(), lat, 0), "lat=%v", lat)
	}
	assert.Nil(t, g.Lookup(context.Background(), 100, 0))
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type countingGeocoder struct {
	calls atomic.Int32
	delay time.Duration
	place *domain.Place
}

func (c *countingGeocoder) Lookup(ctx context.Context, lat, lon float64) *domain.Place {
	c.calls.Add(1)
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil
	}
	return c.place
}

func TestCached_HitsAndRounding(t *testing.T) {
	inner := &countingGeocoder{place: &domain.Place{Name: "Montréal"}}
	c := NewCached(inner, &memCache{}, 60, time.Second)

	p := c.Lookup(context.Background(), 45.50171, -73.56731)
	require.NotNil(t, p)
	p = c.Lookup(context.Background(), 45.50169, -73.56729)
	require.NotNil(t, p)
	assert.Equal(t, "Montréal", p.Name)
	assert.EqualValues(t, 1, inner.calls.Load())

	assert.Equal(t, cacheKey(45.50171, -73.56731), cacheKey(45.50169, -73.56729))
	assert.NotEqual(t, cacheKey(45.5017, -73.5673), cacheKey(45.5027, -73.5673))
}

func TestCached_CollapsesConcurrentMisses(t *testing.T) {
	inner := &countingGeocoder{place: &domain.Place{Name: "Laval"}, delay: 50 * time.Millisecond}
	c := NewCached(inner, &memCache{}, 60, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, c.Lookup(context.Background(), 45.6, -73.7))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCached_FailuresAreNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cache := &memCache{}
	c := NewCached(inner, cache, 60, time.Second)

	assert.Nil(t, c.Lookup(context.Background(), 1, 1))
	assert.Nil(t, c.Lookup(context.Background(), 1, 1))
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Empty(t, cache.data)
}

func TestCached_FirstCallerCancelDoesNotFailOthers(t *testing.T) {
	inner := &countingGeocoder{place: &domain.Place{Name: "Longueuil"}, delay: 80 * time.Millisecond}
	cache := &memCache{}
	c := NewCached(inner, cache, 60, time.Second)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan *domain.Place, 1)
	go func() { firstDone <- c.Lookup(first, 45.53, -73.51) }()
	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan *domain.Place, 1)
	go func() { second <- c.Lookup(context.Background(), 45.53, -73.51) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.Nil(t, <-firstDone)
	p := <-second
	require.NotNil(t, p)
	assert.Equal(t, "Longueuil", p.Name)
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Len(t, cache.data, 1)
}

func TestCached_SharedLookupIsBounded(t *testing.T) {
	inner := &countingGeocoder{place: &domain.Place{Name: "slow"}, delay: time.Second}
	c := NewCached(inner, &memCache{}, 60, 20*time.Millisecond)

	start := time.Now()
	assert.Nil(t, c.Lookup(context.Background(), 2, 2))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
