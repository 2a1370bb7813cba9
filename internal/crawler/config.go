package crawler

import "fmt"

// Config holds the settings for a mirror run.
// It is decoupled from Viper so the engine can be configured and tested on its own.
type Config struct {
	// Concurrency is the run-wide budget of requests in flight.
	Concurrency int
	// CategoryParallelism bounds how many categories paginate at once.
	CategoryParallelism int
	// MaxCataloguePages stops catalogue pagination after N pages. Zero follows
	// the "next" links until they run out.
	MaxCataloguePages int
	// IncludeAssets also mirrors stylesheets and scripts, not just images.
	IncludeAssets bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Concurrency:         4,
		CategoryParallelism: 2,
		IncludeAssets:       true,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Concurrency <= 0 || c.Concurrency > 64 {
		return fmt.Errorf("concurrency must be between 1 and 64, got %d", c.Concurrency)
	}
	if c.CategoryParallelism <= 0 {
		return fmt.Errorf("category parallelism must be > 0, got %d", c.CategoryParallelism)
	}
	if c.MaxCataloguePages < 0 {
		return fmt.Errorf("max catalogue pages must be >= 0, got %d", c.MaxCataloguePages)
	}
	return nil
}
