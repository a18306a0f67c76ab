// Package indextesting provides the shared harness for index tests: a
// logger, an in-memory replicated store and deterministic key generators.
package indextesting

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"

	"github.com/minaevmike/greylock/index"
	"github.com/minaevmike/greylock/memstore"
)

type TestConfig struct {
	// Seed fixes the RNG so generated data is the same from run to run.
	Seed            int64
	TestLabelPrefix string
	Bucket          string
	// Groups are the replica groups the store is created with. Defaults to
	// the single group 1.
	Groups []int
}

type TestContext struct {
	Log   logger.Logger
	Store *memstore.Store
	T     *testing.T
	Rand  *rand.Rand
	Cfg   TestConfig
}

func NewTestContext(t *testing.T, cfg TestConfig) *TestContext {
	if len(cfg.Groups) == 0 {
		cfg.Groups = []int{1}
	}
	logger.New("NOOP")
	log := logger.Sugar.WithServiceName(cfg.TestLabelPrefix)

	return &TestContext{
		Log:   log,
		Store: memstore.New(log, cfg.Groups...),
		T:     t,
		Rand:  rand.New(rand.NewSource(cfg.Seed)),
		Cfg:   cfg,
	}
}

func (c *TestContext) GetLog() logger.Logger { return c.Log }

// NewIndexURL names a fresh index so repeated tests sharing a store never
// collide.
func (c *TestContext) NewIndexURL(name string) index.EUrl {
	return index.EUrl{
		Bucket: c.Cfg.Bucket,
		Key:    fmt.Sprintf("%s.%s", name, uuid.NewString()),
	}
}

// GenerateKeys returns n keys with distinct ids carrying the label, in
// generation order. Each id starts with a random hex prefix, so that is not
// their sort order. Timestamps are zero, so key order follows id order.
func (c *TestContext) GenerateKeys(n int, label string) []index.Key {
	keys := make([]index.Key, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, index.Key{
			ID: fmt.Sprintf("%08x.%s.%08d", c.Rand.Uint32(), label, i),
			URL: index.EUrl{
				Bucket: c.Cfg.Bucket,
				Key:    fmt.Sprintf("some-data.%08d", i),
			},
		})
	}
	return keys
}
