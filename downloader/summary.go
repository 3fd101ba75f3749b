package downloader

import "fmt"

// RunSummary accumulates what a run transferred. Chapters written straight
// from memory count as Buffered, pages staged on disk (including covers) as Staged.
type RunSummary struct {
	BufferedBytes int64
	StagedBytes   int64
	Downloaded    int
	Skipped       int
	Failed        int
}

// Merge adds o into s.
func (s *RunSummary) Merge(o RunSummary) {
	s.BufferedBytes += o.BufferedBytes
	s.StagedBytes += o.StagedBytes
	s.Downloaded += o.Downloaded
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// TotalBytes sums both accounting paths.
func (s RunSummary) TotalBytes() int64 {
	return s.BufferedBytes + s.StagedBytes
}

func (s RunSummary) String() string {
	return fmt.Sprintf("%d downloaded, %d skipped, %d failed, %.2f MB transferred",
		s.Downloaded, s.Skipped, s.Failed, float64(s.TotalBytes())/(1024*1024))
}
