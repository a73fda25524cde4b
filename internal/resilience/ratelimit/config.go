package ratelimit

// Config bounds the adaptive limiter.
type Config struct {
	InitialRate    float64 `yaml:"initial_rate"`    // calls per second at start
	MinRate        float64 `yaml:"min_rate"`        // floor after repeated throttling
	MaxRate        float64 `yaml:"max_rate"`        // ceiling under sustained success
	IncreaseFactor float64 `yaml:"increase_factor"` // growth per success, > 1
	DecreaseFactor float64 `yaml:"decrease_factor"` // shrink per throttle, < 1
}

// DefaultConfig returns conservative defaults for a free-tier API.
func DefaultConfig() Config {
	return Config{
		InitialRate:    5,
		MinRate:        0.5,
		MaxRate:        50,
		IncreaseFactor: 1.05,
		DecreaseFactor: 0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialRate <= 0 {
		c.InitialRate = d.InitialRate
	}
	if c.MinRate <= 0 {
		c.MinRate = d.MinRate
	}
	if c.MaxRate <= 0 {
		c.MaxRate = d.MaxRate
	}
	if c.IncreaseFactor <= 1 {
		c.IncreaseFactor = d.IncreaseFactor
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		c.DecreaseFactor = d.DecreaseFactor
	}
	if c.InitialRate < c.MinRate {
		c.InitialRate = c.MinRate
	}
	if c.InitialRate > c.MaxRate {
		c.InitialRate = c.MaxRate
	}
	return c
}
