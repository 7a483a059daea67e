package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dccgate/internal/domain"

	"github.com/sirupsen/logrus"
)

const maxTrustUpdatesPerCycle = 10000

type TrustSyncResult struct {
	Added       int    `json:"added"`
	Pruned      int    `json:"pruned"`
	Rejected    int    `json:"rejected"`
	ResumeToken string `json:"resume_token,omitempty"`
}

type TrustSync struct {
	Source  TrustListSource
	Keys    TrustKeyStore
	Parser  TrustKeyParser
	Vault   TrustVault
	Metrics Metrics
	Logger  logrus.FieldLogger
}

// Execute prunes keys the distribution service no longer confirms, pulls new
// keys from the resume token onwards and persists the result.
func (s *TrustSync) Execute(ctx context.Context) (TrustSyncResult, error) {
	start := time.Now()
	result, err := s.run(ctx)
	if s.Metrics != nil {
		s.Metrics.ObserveSync("trustlist", err, time.Since(start))
	}
	return result, err
}

func (s *TrustSync) run(ctx context.Context) (TrustSyncResult, error) {
	var result TrustSyncResult
	if s.Source == nil || s.Keys == nil || s.Parser == nil {
		return result, errors.New("trust list source, key store and parser are required")
	}
	log := s.logger()

	confirmed, err := s.Source.Status(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: trust list status: %v", domain.ErrSyncFailure, err)
	}
	pruned, err := s.Keys.Retain(ctx, confirmed)
	if err != nil {
		return result, err
	}
	result.Pruned = pruned
	confirmedSet := make(map[string]bool, len(confirmed))
	for _, kid := range confirmed {
		confirmedSet[kid] = true
	}

	snapshot, err := s.Keys.Snapshot(ctx)
	if err != nil {
		return result, err
	}
	token := snapshot.ResumeToken
	var fetchErr error
	for i := 0; i < maxTrustUpdatesPerCycle; i++ {
		update, err := s.Source.Update(ctx, token)
		if err != nil {
			fetchErr = fmt.Errorf("%w: trust list update: %v", domain.ErrSyncFailure, err)
			break
		}
		if update == nil {
			break
		}
		if update.ResumeToken != "" {
			token = update.ResumeToken
		}
		if !confirmedSet[update.KID] {
			log.WithField("kid", update.KID).Debug("skipping unconfirmed trust key")
			continue
		}
		key, err := s.Parser.ParseTrustKey(update.KID, update.EncodedCert)
		if err != nil {
			log.WithError(err).WithField("kid", update.KID).Warn("rejecting trust key")
			result.Rejected++
			continue
		}
		if err := s.Keys.Add(ctx, key); err != nil {
			return result, err
		}
		result.Added++
	}
	if err := s.Keys.SetResumeToken(ctx, token); err != nil {
		return result, err
	}
	result.ResumeToken = token

	if err := s.persist(ctx); err != nil {
		log.WithError(err).Warn("persisting trust list failed")
	}
	log.WithFields(logrus.Fields{
		"added":    result.Added,
		"pruned":   result.Pruned,
		"rejected": result.Rejected,
	}).Info("trust list sync completed")
	return result, fetchErr
}

func (s *TrustSync) persist(ctx context.Context) error {
	if s.Vault == nil {
		return nil
	}
	snapshot, err := s.Keys.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := s.Vault.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}

// Restore loads the persisted trust list into the key store. Unparseable
// certificates are skipped.
func (s *TrustSync) Restore(ctx context.Context) (int, error) {
	if s.Vault == nil {
		return 0, nil
	}
	snapshot, err := s.Vault.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	restored := 0
	for kid, certs := range snapshot.Certificates {
		for _, encoded := range certs {
			key, err := s.Parser.ParseTrustKey(kid, encoded)
			if err != nil {
				s.logger().WithError(err).WithField("kid", kid).Warn("dropping persisted trust key")
				continue
			}
			if err := s.Keys.Add(ctx, key); err != nil {
				return restored, err
			}
			restored++
		}
	}
	if err := s.Keys.SetResumeToken(ctx, snapshot.ResumeToken); err != nil {
		return restored, err
	}
	return restored, nil
}

func (s *TrustSync) logger() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}
