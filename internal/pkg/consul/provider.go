package consul

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/hashicorp/consul/api"
	"go.uber.org/multierr"

	"github.com/scribehub/scribe/internal/pkg/transcriber"
	tapi "github.com/scribehub/scribe/internal/pkg/transcriber/api"
)

const (
	urlKey       = "transcribeURL"
	isHTTPSSLKey = "HTTPSSL"
	priorityKey  = "priority"
)

// Provider keeps the live set of recognition engines registered in consul
type Provider struct {
	consul  *api.Client
	srvName string

	lock    *sync.RWMutex
	engines []*engWrap
}

type engWrap struct {
	real     tapi.Transcriber
	srv      string
	key      string
	priority float64
}

// NewProvider creates consul backed engine provider
func NewProvider(cfg *api.Config, srvNameInConsul string) (*Provider, error) {
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if srvNameInConsul == "" {
		return nil, fmt.Errorf("no srv name")
	}
	return newProvider(c, srvNameInConsul), nil
}

func newProvider(c *api.Client, srvNameInConsul string) *Provider {
	goapp.Log.Info().Str("service", srvNameInConsul).Msg("cfg: srv name in consul")
	return &Provider{consul: c, srvName: srvNameInConsul, lock: &sync.RWMutex{}, engines: make([]*engWrap, 0)}
}

// Get returns an engine selected randomly by priority weight
func (c *Provider) Get() (tapi.Transcriber, string, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if len(c.engines) == 0 {
		return nil, "", fmt.Errorf("no active engines")
	}
	if len(c.engines) == 1 {
		e := c.engines[0]
		return e.real, e.srv, nil
	}
	i, err := getRandomByPriority(c.engines)
	if err != nil {
		return nil, "", fmt.Errorf("can't select engine: %v", err)
	}
	if i < len(c.engines) {
		e := c.engines[i]
		return e.real, e.srv, nil
	}
	return nil, "", fmt.Errorf("no active engines")
}

func getRandomByPriority(engines []*engWrap) (int, error) {
	prMax := 0.0
	for _, e := range engines {
		prMax += e.priority
	}
	if prMax < 0.1 {
		return 0, fmt.Errorf("wrong priority sum found %f", prMax)
	}
	rnd := rand.Float64() * prMax
	prMax = 0.0
	for i, e := range engines {
		prMax += e.priority
		if prMax > rnd {
			return i, nil
		}
	}
	return len(engines), nil
}

// StartRegistryLoop refreshes the engine list every checkInterval
func (c *Provider) StartRegistryLoop(ctx context.Context, checkInterval time.Duration) (<-chan struct{}, error) {
	goapp.Log.Info().Msgf("Starting consul service check every %v", checkInterval)
	res := make(chan struct{}, 2)
	go func() {
		defer close(res)
		c.serviceLoop(ctx, checkInterval)
	}()
	return res, nil
}

func (c *Provider) serviceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	// run on startup
	if err := c.check(ctx); err != nil {
		goapp.Log.Error().Err(err).Send()
	}
	for {
		select {
		case <-ticker.C:
			if err := c.check(ctx); err != nil {
				goapp.Log.Error().Err(err).Send()
			}
		case <-ctx.Done():
			ticker.Stop()
			goapp.Log.Info().Msgf("Stopped consul timer service")
			return
		}
	}
}

func (c *Provider) check(ctx context.Context) error {
	ctxInt, cf := context.WithTimeout(ctx, time.Second*5)
	defer cf()
	srvs, _, err := c.consul.Health().Service(c.srvName, "", true, (&api.QueryOptions{}).WithContext(ctxInt))
	if err != nil {
		return fmt.Errorf("can't invoke consul: %v", err)
	}
	return c.updateSrv(srvs)
}

func (c *Provider) updateSrv(srvs []*api.ServiceEntry) error {
	goapp.Log.Info().Msgf("got %d services from consul", len(srvs))
	c.lock.Lock()
	defer c.lock.Unlock()
	ms := map[string]*api.ServiceEntry{}
	for _, s := range srvs {
		ms[key(s)] = s
	}
	kept := []*engWrap{}
	for _, e := range c.engines {
		if v, ok := ms[e.srv]; ok && e.key == fullKey(v) {
			kept = append(kept, e)
			delete(ms, e.srv)
			continue
		}
		goapp.Log.Warn().Str("service", e.srv).Msgf("dropped engine")
	}
	if len(kept) == len(c.engines) && len(ms) == 0 {
		return nil
	}
	c.engines = kept
	var err error
	for v, k := range ms {
		e, errInt := newEngine(v, k)
		if errInt != nil {
			err = multierr.Append(err, errInt)
			continue
		}
		c.engines = append(c.engines, e)
		goapp.Log.Info().Str("service", v).Float64("priority", e.priority).Msg("added engine")
	}
	return err
}

func newEngine(v string, s *api.ServiceEntry) (*engWrap, error) {
	e, err := transcriber.NewClient(getURL(s, urlKey))
	if err != nil {
		return nil, fmt.Errorf("can't init engine for %s: %v", v, err)
	}
	priority, err := getPriority(s)
	if err != nil {
		return nil, fmt.Errorf("can't init engine for %s: %v", v, err)
	}
	res := &engWrap{real: e, srv: v, key: fullKey(s), priority: priority}
	return res, nil
}

func getPriority(s *api.ServiceEntry) (float64, error) {
	v, ok := s.Service.Meta[priorityKey]
	if !ok {
		return 1, nil
	}
	res, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse priority '%s': %v", v, err)
	}
	if res < 0.5 || res > 50 {
		return 0, fmt.Errorf("wrong priority value '%f', not in [0.5, 50]", res)
	}
	return res, nil
}

func getURL(s *api.ServiceEntry, key string) string {
	v, ok := s.Service.Meta[key]
	if !ok {
		return ""
	}
	ssl := ""
	if isSSL, ok := s.Service.Meta[isHTTPSSLKey]; ok {
		if boolValue, err := strconv.ParseBool(isSSL); err == nil && boolValue {
			ssl = "s"
		}
	}
	return fmt.Sprintf("http%s://%s:%d/%s", ssl, s.Service.Address, s.Service.Port, v)
}

func key(s *api.ServiceEntry) string {
	return fmt.Sprintf("%s:%d", s.Service.Address, s.Service.Port)
}

func fullKey(s *api.ServiceEntry) string {
	res := strings.Builder{}
	for _, key := range [...]string{urlKey, isHTTPSSLKey, priorityKey} {
		v, ok := s.Service.Meta[key]
		if ok {
			res.WriteString(key + ":" + v + ",")
		}
	}
	return res.String()
}
