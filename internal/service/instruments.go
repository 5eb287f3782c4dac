package service

import (
	"context"
	"errors"

	"cadence_scheduler/internal/configdb"
	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"
)

var errNoDirectory = errors.New("configdb is not configured")

type InstrumentService struct {
	instruments repository.InstrumentRepo
	directory   Directory
	log         *logger.Logger
}

func NewInstrumentService(instruments repository.InstrumentRepo, directory Directory, log *logger.Logger) *InstrumentService {
	return &InstrumentService{instruments: instruments, directory: directory, log: logger.OrNop(log)}
}

func (s *InstrumentService) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	return s.instruments.List(ctx)
}

// Sync refreshes ConfigDB and upserts every active imager into the catalog.
// Spectrographs are skipped; existing filter attachments are left alone.
func (s *InstrumentService) Sync(ctx context.Context) (SyncReport, error) {
	if s.directory == nil {
		return SyncReport{}, errNoDirectory
	}
	if err := s.directory.Refresh(ctx); err != nil {
		return SyncReport{}, err
	}

	var report SyncReport
	for _, inst := range s.directory.ActiveInstruments(configdb.AllSites, "", true, false) {
		if configdb.IsSpectrograph(inst.Type) {
			report.Skipped++
			continue
		}
		err := s.instruments.UpsertInstrument(ctx, models.Instrument{
			Code:      inst.Code,
			Site:      inst.Site,
			Enclosure: inst.Enclosure,
			Telescope: inst.Telescope,
			Type:      inst.Type,
		})
		if err != nil {
			return report, err
		}
		report.Synced = append(report.Synced, inst.Code)
	}
	s.log.Infow("instruments_synced", "synced", len(report.Synced), "skipped", report.Skipped)
	return report, nil
}
