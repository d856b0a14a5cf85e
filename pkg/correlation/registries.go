package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Store kinds.
const (
	KindReprocessor = "reprocessor"
	KindPassthrough = "passthrough"
	KindContext     = "context"
)

const (
	DefaultPollInterval = time.Second
	DefaultPollAttempts = 60
)

// Options tune the registries. Zero values select defaults.
type Options struct {
	PollInterval  time.Duration
	PollAttempts  int
	UploadTTL     time.Duration
	ExecutableTTL time.Duration
	Observe       ObserveFunc
}

// Registries groups the three single-use stores with the upload-resolution
// cache and the executable seen-set. R is the reprocessor continuation type.
type Registries[R any] struct {
	Reprocessors *Store[R]
	Passthroughs *Store[map[string]any]
	Contexts     *Store[map[string]any]

	// Uploads maps upload ids to the public location the transport echoed.
	Uploads *ttlcache.Cache[string, string]
	// Executables records executable ids already re-interpreted once.
	Executables *ttlcache.Cache[string, time.Time]

	pollInterval  time.Duration
	pollAttempts  int
	uploadTTL     time.Duration
	executableTTL time.Duration
}

// New builds empty registries.
func New[R any](opts Options) *Registries[R] {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = DefaultPollAttempts
	}

	return &Registries[R]{
		Reprocessors:  NewStore[R](KindReprocessor, opts.Observe),
		Passthroughs:  NewStore[map[string]any](KindPassthrough, opts.Observe),
		Contexts:      NewStore[map[string]any](KindContext, opts.Observe),
		Uploads:       newCache[string](opts.UploadTTL),
		Executables:   newCache[time.Time](opts.ExecutableTTL),
		pollInterval:  opts.PollInterval,
		pollAttempts:  opts.PollAttempts,
		uploadTTL:     opts.UploadTTL,
		executableTTL: opts.ExecutableTTL,
	}
}

// newCache builds a cache whose entries live ttl after being stored. A zero
// ttl keeps entries for the process lifetime.
func newCache[V any](ttl time.Duration) *ttlcache.Cache[string, V] {
	return ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
}

// ResolveUpload records the location of uploadID unless one is already
// known, and reports whether it stored uri.
func (r *Registries[R]) ResolveUpload(uploadID string, uri string) bool {
	_, found := r.Uploads.GetOrSet(uploadID, uri)
	return !found
}

// MarkExecutable records executable as re-interpreted and reports whether
// this is the first time.
func (r *Registries[R]) MarkExecutable(executable string, at time.Time) bool {
	_, found := r.Executables.GetOrSet(executable, at)
	return !found
}

// UploadCallback receives a resolved upload location.
type UploadCallback func(ctx context.Context, uri string, extra ...any) error

// ResolveUploadURI waits for uploadID to become resolvable, checking once per
// poll interval for at most the configured number of attempts. It invokes
// callback once and reports true on success, and reports false without
// calling it when the wait runs out. Context cancellation ends the wait.
func (r *Registries[R]) ResolveUploadURI(ctx context.Context, uploadID string, callback UploadCallback, extra ...any) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ticks := 0
	for {
		if item := r.Uploads.Get(uploadID); item != nil {
			if callback == nil {
				return true, nil
			}
			return true, callback(ctx, item.Value(), extra...)
		}
		if ticks >= r.pollAttempts {
			return false, nil
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
		ticks++
	}
}

// Sweep drops expired upload and executable entries.
func (r *Registries[R]) Sweep() {
	r.Uploads.DeleteExpired()
	r.Executables.DeleteExpired()
}

// RunEviction removes upload and executable entries as they expire until ctx
// ends. It returns at once when neither cache has a ttl.
func (r *Registries[R]) RunEviction(ctx context.Context) {
	var running []interface{ Stop() }
	var wg sync.WaitGroup

	if r.uploadTTL > 0 {
		running = append(running, r.Uploads)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Uploads.Start()
		}()
	}
	if r.executableTTL > 0 {
		running = append(running, r.Executables)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Executables.Start()
		}()
	}
	if len(running) == 0 {
		return
	}

	<-ctx.Done()
	for _, cache := range running {
		cache.Stop()
	}
	wg.Wait()
}
