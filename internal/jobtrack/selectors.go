package jobtrack

import "github.com/aistory/aistory-web/internal/domain"

// CompletionData is the typed projection of a completed job's outputs.
// Every optional field carries a documented default so nothing nullable
// leaks to the view: empty string/slice, zero index, nil score/time.
type CompletionData struct {
	VideoURL              string
	SuggestedTitle        string
	SuggestedDescription  string
	SuggestedHashtags     []string
	TitleVariants         []domain.TitleVariant
	RecommendedTitleIndex int
	ViralityScore         *float64
	GenerationTime        *float64
}

// Logs returns the tracked job's log entries, empty when no job or no
// logs are present.
func (s *Store) Logs() []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CurrentJob == nil || s.state.CurrentJob.Logs == nil {
		return []domain.LogEntry{}
	}
	return s.state.CurrentJob.Logs
}

// CurrentStep returns the label of the pipeline stage presently executing,
// empty when absent.
func (s *Store) CurrentStep() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CurrentJob == nil {
		return ""
	}
	return s.state.CurrentJob.CurrentStep
}

// CompletionData is present only while the tracked job is completed.
func (s *Store) CompletionData() (CompletionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.state.CurrentJob
	if job == nil || job.Status != domain.JobStatusCompleted {
		return CompletionData{}, false
	}

	data := CompletionData{
		VideoURL:             job.VideoURL,
		SuggestedTitle:       job.VideoTitle,
		SuggestedDescription: job.VideoDescription,
		SuggestedHashtags:    []string{},
		TitleVariants:        []domain.TitleVariant{},
		GenerationTime:       job.GenerationTime,
	}
	if job.VideoHashtags != nil {
		data.SuggestedHashtags = job.VideoHashtags
	}
	if ext := job.VideoMetadataExtended; ext != nil {
		if ext.TitleVariants != nil {
			data.TitleVariants = ext.TitleVariants
		}
		data.RecommendedTitleIndex = ext.RecommendedTitleIndex
		score := ext.ViralityAnalysis.EstimatedScore
		data.ViralityScore = &score
	}
	return data, true
}
