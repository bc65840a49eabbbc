// Package dist parses and samples the duration distributions used for
// timers and link latencies.
//
// Accepted forms:
//
//	10s                     constant
//	constant(10s)           constant
//	uniform(5ms,50ms)       uniform in [a,b)
//	exponential(10s)        exponential with the given mean
//	normal(2s,500ms)        normal, negative draws clamp to 0
//	0 / "" / none           disabled (always 0)
package dist

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nofree-network/nofree/internal/domain"
)

// ─── Distributions ──────────────────────────────────────────────────────────

// Constant always returns the same duration.
type Constant time.Duration

func (c Constant) Sample(domain.Random) time.Duration { return time.Duration(c) }

func (c Constant) String() string {
	if c == 0 {
		return "0"
	}
	return time.Duration(c).String()
}

// Uniform samples uniformly in [Min, Max).
type Uniform struct {
	Min, Max time.Duration
}

func (u Uniform) Sample(r domain.Random) time.Duration {
	return u.Min + time.Duration(r.Float64()*float64(u.Max-u.Min))
}

func (u Uniform) String() string { return fmt.Sprintf("uniform(%s,%s)", u.Min, u.Max) }

// Exponential samples with the given mean.
type Exponential struct {
	Mean time.Duration
}

func (e Exponential) Sample(r domain.Random) time.Duration {
	return time.Duration(-math.Log(1-r.Float64()) * float64(e.Mean))
}

func (e Exponential) String() string { return fmt.Sprintf("exponential(%s)", e.Mean) }

// Normal samples with the given mean and standard deviation (Box-Muller).
// Negative draws are clamped to zero.
type Normal struct {
	Mean, StdDev time.Duration
}

func (n Normal) Sample(r domain.Random) time.Duration {
	u1 := 1 - r.Float64() // (0,1]
	u2 := r.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	v := float64(n.Mean) + z*float64(n.StdDev)
	if v < 0 {
		return 0
	}
	return time.Duration(v)
}

func (n Normal) String() string { return fmt.Sprintf("normal(%s,%s)", n.Mean, n.StdDev) }

// ─── Parsing ────────────────────────────────────────────────────────────────

// Parse turns an expression into a distribution. Errors wrap
// domain.ErrInvalidDistribution.
func Parse(expr string) (domain.Distribution, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	switch s {
	case "", "0", "none", "off":
		return Constant(0), nil
	}

	open := strings.IndexByte(s, '(')
	if open < 0 {
		d, err := parseDuration(s)
		if err != nil {
			return nil, invalid(expr, err)
		}
		return Constant(d), nil
	}
	if !strings.HasSuffix(s, ")") {
		return nil, invalid(expr, fmt.Errorf("missing closing parenthesis"))
	}

	name := strings.TrimSpace(s[:open])
	var args []time.Duration
	for _, a := range strings.Split(s[open+1:len(s)-1], ",") {
		d, err := parseDuration(strings.TrimSpace(a))
		if err != nil {
			return nil, invalid(expr, err)
		}
		args = append(args, d)
	}

	switch name {
	case "constant", "const", "fixed":
		if len(args) != 1 {
			return nil, invalid(expr, fmt.Errorf("constant takes 1 argument"))
		}
		return Constant(args[0]), nil
	case "uniform":
		if len(args) != 2 {
			return nil, invalid(expr, fmt.Errorf("uniform takes 2 arguments"))
		}
		if args[1] < args[0] {
			return nil, invalid(expr, fmt.Errorf("max below min"))
		}
		return Uniform{Min: args[0], Max: args[1]}, nil
	case "exponential", "exp":
		if len(args) != 1 {
			return nil, invalid(expr, fmt.Errorf("exponential takes 1 argument"))
		}
		return Exponential{Mean: args[0]}, nil
	case "normal", "truncnormal":
		if len(args) != 2 {
			return nil, invalid(expr, fmt.Errorf("normal takes 2 arguments"))
		}
		return Normal{Mean: args[0], StdDev: args[1]}, nil
	default:
		return nil, invalid(expr, fmt.Errorf("unknown distribution %q", name))
	}
}

// MustParse is Parse for literals known to be valid.
func MustParse(expr string) domain.Distribution {
	d, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d never produces a positive duration.
func IsZero(d domain.Distribution) bool {
	if d == nil {
		return true
	}
	c, ok := d.(Constant)
	return ok && c == 0
}

// NeverPositive reports whether every sample of d is zero. Such a
// distribution cannot drive a recurring timer: the timer would fire again at
// the same instant forever.
func NeverPositive(d domain.Distribution) bool {
	switch v := d.(type) {
	case nil:
		return true
	case Constant:
		return v <= 0
	case Uniform:
		return v.Max <= 0
	case Exponential:
		return v.Mean <= 0
	case Normal:
		return v.Mean <= 0 && v.StdDev <= 0
	}
	return false
}

// parseDuration accepts Go durations and bare numbers as seconds.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return 0, err
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func invalid(expr string, err error) error {
	return fmt.Errorf("%w: %q: %v", domain.ErrInvalidDistribution, expr, err)
}

// ─── TOML Binding ───────────────────────────────────────────────────────────

// Spec is a distribution that round-trips through text config files.
type Spec struct {
	domain.Distribution
}

// NewSpec parses expr into a Spec.
func NewSpec(expr string) (Spec, error) {
	d, err := Parse(expr)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Distribution: d}, nil
}

// MustSpec is NewSpec for literals known to be valid.
func MustSpec(expr string) Spec {
	return Spec{Distribution: MustParse(expr)}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Spec) UnmarshalText(text []byte) error {
	d, err := Parse(string(text))
	if err != nil {
		return err
	}
	s.Distribution = d
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Spec) MarshalText() ([]byte, error) {
	if s.Distribution == nil {
		return []byte("0"), nil
	}
	return []byte(s.Distribution.String()), nil
}

// Get returns the distribution, or nil when it is disabled.
func (s Spec) Get() domain.Distribution {
	if IsZero(s.Distribution) {
		return nil
	}
	return s.Distribution
}
