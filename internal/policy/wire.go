// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package policy

import (
	"fmt"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/storage"
)

// ToProtectionPolicy translates p into the policy pushed to partitions.
// An unsupported storage kind is returned as storage.ErrUnsupportedKind.
func ToProtectionPolicy(p *models.BackupPolicy) (*fabric.ProtectionPolicy, error) {
	wireStorage, err := storage.ToWire(&p.Storage)
	if err != nil {
		return nil, fmt.Errorf("policy %q: %w", p.Name, err)
	}

	out := &fabric.ProtectionPolicy{
		Name:                  p.Name,
		PolicyUniqueID:        p.UniqueID,
		AutoRestoreOnDataLoss: p.AutoRestoreOnDataLoss,
		MaxIncrementalBackups: p.MaxIncrementalBackups,
		ScheduleKind:          string(p.Schedule.Kind),
		Storage:               wireStorage,
	}

	switch p.Schedule.Kind {
	case models.ScheduleFrequencyBased:
		out.FrequencySchedule = &fabric.FrequencySchedule{
			RunFrequencyType: string(p.Schedule.RunFrequencyType),
			Interval:         p.Schedule.Interval,
		}
	case models.ScheduleTimeBased:
		days := p.Schedule.RunDays
		if p.Schedule.RunSchedule == models.RunDaily {
			days = models.AllWeekdays
		}
		out.TimeSchedule = &fabric.TimeSchedule{
			RunSchedule: string(p.Schedule.RunSchedule),
			RunDays:     uint8(days),
			RunTimes:    append([]string(nil), p.Schedule.RunTimes...),
		}
	default:
		return nil, fmt.Errorf("policy %q: %w: schedule kind %q", p.Name, models.ErrInvalidSchedule, p.Schedule.Kind)
	}

	if p.Retention != nil {
		out.Retention = &fabric.RetentionPolicy{
			RetentionDuration:      p.Retention.RetentionDuration.String(),
			MinimumNumberOfBackups: p.Retention.MinimumNumberOfBackups,
		}
	}
	return out, nil
}
