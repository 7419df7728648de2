package api

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/hash/sha256"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

const archiveTimeout = 15 * time.Second

// ArchiveKey names a stored report by domain, UTC day and content digest.
func ArchiveKey(domain string, pdf []byte, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.pdf", domain, at.UTC().Format("2006-01-02"), sha256.Hex(pdf))
}

// archivePDF stores pdf when an archive is configured. Failures are logged and swallowed.
func (s *Server) archivePDF(ctx context.Context, domain string, pdf []byte, at time.Time) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	key := ArchiveKey(domain, pdf, at)
	location, err := s.archive.PutObject(ctx, key, "application/pdf", bytes.NewReader(pdf))
	if err != nil {
		s.logger.Warn("report archive failed", zap.String("domain", domain), zap.Error(err))
		metrics.ObserveDependencyError("archive")
		return
	}
	s.logger.Debug("report archived", zap.String("domain", domain), zap.String("location", location))
}
