// Package command contains the write side of the progression engine: one
// handler per subsystem, each serializing its mutations per student.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct runs struct-tag validation and maps failures to a
// shared.ErrValidation domain error naming every failed field.
func ValidateStruct(domain, op string, v interface{}) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError(domain, op, shared.ErrValidation, "validation failed", err)
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return shared.NewDomainError(domain, op, shared.ErrValidation, strings.Join(parts, "; "))
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics receives progression counters.
type Metrics interface {
	XPAwarded(txType string, amount int)
	LevelUp(level int)
	StreakMilestone(days int)
	QuestCompleted(templateKey string)
	AchievementAwarded(name string)
	DivisionChanged(direction string)
	SeasonRolledOver(participants int)
	SubsystemFailed(subsystem string)
	ObserveEvent(d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) XPAwarded(string, int)      {}
func (NopMetrics) LevelUp(int)                {}
func (NopMetrics) StreakMilestone(int)        {}
func (NopMetrics) QuestCompleted(string)      {}
func (NopMetrics) AchievementAwarded(string)  {}
func (NopMetrics) DivisionChanged(string)     {}
func (NopMetrics) SeasonRolledOver(int)       {}
func (NopMetrics) SubsystemFailed(string)     {}
func (NopMetrics) ObserveEvent(time.Duration) {}

// ══════════════════════════════════════════════════════════════════════════════
// COALESCING
// ══════════════════════════════════════════════════════════════════════════════

// sharedWorkTimeout bounds work that several callers wait on together.
const sharedWorkTimeout = 30 * time.Second

// doShared runs fn once per key for all concurrent callers. fn runs under a
// context detached from the caller that started it, so one caller giving up
// does not fail the others; each caller still stops waiting on its own ctx.
func doShared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (interface{}, error) {
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedWorkTimeout)
		defer cancel()
		return fn(work)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
