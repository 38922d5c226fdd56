// gateway/validation/validator.go

// Package validation checks inbound request payloads against named schemas.
// Schemas are structs with validate tags, registered at boot and compiled
// once. Each schema carries its own health latch so a misbehaving validation
// pipeline fails fast instead of stalling every request on that route.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/metrics"
)

// Part identifies which slice of the request a schema applies to.
type Part string

const (
	PartBody   Part = "body"
	PartQuery  Part = "query"
	PartParams Part = "params"
)

// FieldError describes one schema violation in a payload.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// FieldErrors is the full set of violations for one payload. It unwraps to
// ErrSchemaViolation so callers can classify it without inspecting fields.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		if fe.Param != "" {
			parts[i] = fmt.Sprintf("%s violates %s=%s", fe.Field, fe.Rule, fe.Param)
		} else {
			parts[i] = fmt.Sprintf("%s violates %s", fe.Field, fe.Rule)
		}
	}
	return "payload invalid: " + strings.Join(parts, "; ")
}

func (e FieldErrors) Unwrap() error { return errs.ErrSchemaViolation }

// Validator validates request payloads against registered schemas.
type Validator interface {
	// Register compiles a schema under (name, part). The prototype must be a
	// struct (or pointer to one) with validate tags.
	Register(name string, part Part, prototype interface{}) error
	// RegisterRule adds a custom rule usable in schema validate tags.
	RegisterRule(tag string, fn validator.Func) error
	// Validate checks a JSON payload against the named schema.
	Validate(ctx context.Context, name string, part Part, payload []byte) error
	// ValidateBody additionally enforces the declared content type.
	ValidateBody(ctx context.Context, name, contentType string, payload []byte) error
}

// Config holds request validation settings.
type Config struct {
	MaxPayloadBytes  int64
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

type schema struct {
	name   string
	part   Part
	typ    reflect.Type
	health health
}

type service struct {
	mu       sync.RWMutex
	schemas  map[string]*schema
	validate *validator.Validate
	cfg      Config
	clock    func() time.Time
}

// New builds the schema validator.
func New(cfg Config) Validator {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 1 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &service{
		schemas:  make(map[string]*schema),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		clock:    time.Now,
	}
}

// schemaKey is the registry key: one compiled schema per (name, part).
func schemaKey(name string, part Part) string {
	return name + "#" + string(part)
}

func (s *service) Register(name string, part Part, prototype interface{}) error {
	if name == "" {
		return fmt.Errorf("schema name must not be empty")
	}

	typ := reflect.TypeOf(prototype)
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return fmt.Errorf("schema %s: prototype must be a struct, got %T", name, prototype)
	}

	key := schemaKey(name, part)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schemas[key]; exists {
		return fmt.Errorf("schema %s already registered for part %s", name, part)
	}
	s.schemas[key] = &schema{name: name, part: part, typ: typ}

	logger.Debug("Registered validation schema",
		zap.String("schema", name),
		zap.String("part", string(part)))
	return nil
}

func (s *service) RegisterRule(tag string, fn validator.Func) error {
	return s.validate.RegisterValidation(tag, fn)
}

func (s *service) lookup(name string, part Part) (*schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemas[schemaKey(name, part)]
	if !ok {
		return nil, fmt.Errorf("schema %s part %s: %w", name, part, errs.ErrSchemaNotFound)
	}
	return sc, nil
}

func (s *service) ValidateBody(ctx context.Context, name, contentType string, payload []byte) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		metrics.RecordValidation(name, "rejected")
		return fmt.Errorf("content type %q: %w", contentType, errs.ErrUnsupportedContentType)
	}
	return s.Validate(ctx, name, PartBody, payload)
}

func (s *service) Validate(ctx context.Context, name string, part Part, payload []byte) error {
	sc, err := s.lookup(name, part)
	if err != nil {
		return err
	}

	if !sc.health.allow(s.clock(), s.cfg.Cooldown) {
		metrics.RecordValidation(name, "unavailable")
		return fmt.Errorf("schema %s: %w", name, errs.ErrValidationUnavailable)
	}

	if int64(len(payload)) > s.cfg.MaxPayloadBytes {
		metrics.RecordValidation(name, "rejected")
		return fmt.Errorf("payload of %d bytes: %w", len(payload), errs.ErrPayloadTooLarge)
	}

	// The pipeline races its own deadline. A run that outlives the deadline
	// is an infrastructure failure, not a verdict on the payload.
	outcome := make(chan error, 1)
	go func() { outcome <- s.run(sc, payload) }()

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case err := <-outcome:
		completed := err == nil || errors.Is(err, errs.ErrSchemaViolation)
		s.observe(sc, completed)
		switch {
		case err == nil:
			metrics.RecordValidation(name, "ok")
		case completed:
			metrics.RecordValidation(name, "rejected")
		default:
			metrics.RecordValidation(name, "error")
		}
		return err
	case <-timer.C:
		s.observe(sc, false)
		metrics.RecordValidation(name, "timeout")
		logger.Warn("Validation pipeline timed out",
			zap.String("schema", name),
			zap.Duration("timeout", s.cfg.Timeout))
		return fmt.Errorf("schema %s: %w", name, errs.ErrValidationTimeout)
	case <-ctx.Done():
		// Caller gave up; says nothing about pipeline health.
		return ctx.Err()
	}
}

func (s *service) run(sc *schema, payload []byte) error {
	target := reflect.New(sc.typ).Interface()

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrSchemaViolation)
	}

	if err := s.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			out := make(FieldErrors, 0, len(verrs))
			for _, fe := range verrs {
				out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
			}
			return out
		}
		return fmt.Errorf("validation pipeline: %w", err)
	}
	return nil
}

func (s *service) observe(sc *schema, completed bool) {
	if tripped := sc.health.observe(completed, s.clock(), s.cfg.FailureThreshold); tripped {
		logger.Error("Validation pipeline latched open",
			zap.String("schema", sc.name),
			zap.Int("consecutiveFailures", s.cfg.FailureThreshold),
			zap.Duration("cooldown", s.cfg.Cooldown))
	}
}

// health is the per-schema failure latch. Unlike the dependency breakers it
// counts consecutive infrastructure failures only; any completed pipeline run
// resets it.
type health struct {
	mu       sync.Mutex
	failures int
	openedAt time.Time
}

func (h *health) allow(now time.Time, cooldown time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openedAt.IsZero() {
		return true
	}
	if now.Sub(h.openedAt) < cooldown {
		return false
	}
	h.openedAt = time.Time{}
	h.failures = 0
	return true
}

func (h *health) observe(completed bool, now time.Time, threshold int) (tripped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if completed {
		h.failures = 0
		h.openedAt = time.Time{}
		return false
	}
	h.failures++
	if h.failures >= threshold && h.openedAt.IsZero() {
		h.openedAt = now
		return true
	}
	return false
}
