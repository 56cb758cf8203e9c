// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/validation"
)

// ErrInvalidSchedule is returned when a schedule's fields do not match its kind.
var ErrInvalidSchedule = errors.New("invalid backup schedule")

// BackupMapping binds an application, service or partition to a policy.
// ProtectionID is replaced every time protection is (re)enabled.
type BackupMapping struct {
	ApplicationOrServiceURI string    `json:"application_or_service_uri" validate:"required,fabricuri"`
	BackupPolicyName        string    `json:"backup_policy_name" validate:"required,max=256"`
	ProtectionID            string    `json:"protection_id" validate:"required,uuid"`
	CreatedAt               time.Time `json:"created_at"`
}

// ScheduleKind selects how a schedule is described.
type ScheduleKind string

const (
	ScheduleFrequencyBased ScheduleKind = "FrequencyBased"
	ScheduleTimeBased      ScheduleKind = "TimeBased"
)

// RunFrequency is the unit of a frequency-based interval.
type RunFrequency string

const (
	FrequencyMinutes RunFrequency = "Minutes"
	FrequencyHours   RunFrequency = "Hours"
)

// RunSchedule is the cadence of a time-based schedule.
type RunSchedule string

const (
	RunDaily  RunSchedule = "Daily"
	RunWeekly RunSchedule = "Weekly"
)

// Weekdays is a bitmask of days, bit 0 = Sunday.
type Weekdays uint8

// AllWeekdays has all seven bits set.
const AllWeekdays Weekdays = 0x7F

// WeekdaysOf builds a mask from days.
func WeekdaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// Has reports whether d is in the mask.
func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

// Schedule describes when backups are taken.
type Schedule struct {
	Kind             ScheduleKind `json:"kind" validate:"required,oneof=FrequencyBased TimeBased"`
	RunFrequencyType RunFrequency `json:"run_frequency_type,omitempty" validate:"omitempty,oneof=Minutes Hours"`
	Interval         int          `json:"interval,omitempty" validate:"gte=0"`
	RunSchedule      RunSchedule  `json:"run_schedule,omitempty" validate:"omitempty,oneof=Daily Weekly"`
	RunDays          Weekdays     `json:"run_days,omitempty" validate:"lte=127"`
	RunTimes         []string     `json:"run_times,omitempty" validate:"omitempty,dive,timeofday"`
}

func (s *Schedule) check() error {
	switch s.Kind {
	case ScheduleFrequencyBased:
		if s.RunFrequencyType == "" || s.Interval <= 0 {
			return fmt.Errorf("%w: frequency-based schedule needs a run frequency type and a positive interval", ErrInvalidSchedule)
		}
		if len(s.RunTimes) > 0 || s.RunSchedule != "" {
			return fmt.Errorf("%w: frequency-based schedule cannot carry run times", ErrInvalidSchedule)
		}
	case ScheduleTimeBased:
		if s.RunSchedule == "" || len(s.RunTimes) == 0 {
			return fmt.Errorf("%w: time-based schedule needs a run schedule and at least one run time", ErrInvalidSchedule)
		}
		if s.RunSchedule == RunWeekly && s.RunDays == 0 {
			return fmt.Errorf("%w: weekly schedule needs at least one run day", ErrInvalidSchedule)
		}
	}
	return nil
}

// RetentionPolicy is the basic retention description carried to partitions.
type RetentionPolicy struct {
	RetentionDuration      time.Duration `json:"retention_duration" validate:"gt=0"`
	MinimumNumberOfBackups int           `json:"minimum_number_of_backups" validate:"gte=0"`
}

// BackupPolicy is a named schedule and destination. UniqueID is replaced on
// every content change; Name never changes.
type BackupPolicy struct {
	Name                  string             `json:"name" validate:"required,max=256"`
	UniqueID              string             `json:"unique_id"`
	AutoRestoreOnDataLoss bool               `json:"auto_restore_on_data_loss"`
	MaxIncrementalBackups int                `json:"max_incremental_backups" validate:"gte=0,lte=255"`
	Schedule              Schedule           `json:"schedule"`
	Storage               storage.Descriptor `json:"storage"`
	Retention             *RetentionPolicy   `json:"retention,omitempty"`
}

// Validate checks field constraints, schedule consistency and the storage
// descriptor.
func (p *BackupPolicy) Validate() error {
	if verr := validation.ValidateStruct(p); verr != nil {
		return fmt.Errorf("backup policy %q: %w", p.Name, verr)
	}
	if err := p.Schedule.check(); err != nil {
		return fmt.Errorf("backup policy %q: %w", p.Name, err)
	}
	if err := p.Storage.Validate(); err != nil {
		return fmt.Errorf("backup policy %q: %w", p.Name, err)
	}
	return nil
}
