package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/providers/llm"
	yt "github.com/example/research-orchestrator/internal/providers/youtube"
	"github.com/example/research-orchestrator/internal/tools"
)

const (
	StageTranscript  = "transcript"
	StageTranslation = "translation"
	StageSummary     = "summary"

	defaultTargetLanguage = "en"
	defaultChunkChars     = 12000
	defaultChunkOverlap   = 400
	chunkParallelism      = 3
)

// YouTube extracts a video's transcript, translates it into the target
// language unless it is already in it, and summarizes the result. Transcripts
// longer than ChunkChars are summarized per section and then combined.
type YouTube struct {
	client         llm.Client
	transcripts    yt.TranscriptSource
	targetLanguage string
	ChunkChars     int
	p              *Pipeline

	mu         sync.Mutex
	running    bool
	videoURL   string
	videoID    string
	sourceLang string
}

func NewYouTube(client llm.Client, transcripts yt.TranscriptSource, targetLanguage string, onChange func(models.StageSnapshot), logger *zap.Logger) *YouTube {
	if strings.TrimSpace(targetLanguage) == "" {
		targetLanguage = defaultTargetLanguage
	}
	return &YouTube{
		client:         client,
		transcripts:    transcripts,
		targetLanguage: targetLanguage,
		ChunkChars:     defaultChunkChars,
		p:              New("youtube", []string{StageTranscript, StageTranslation, StageSummary}, onChange, logger),
	}
}

// Run executes all three stages for videoURL. It fails fast with
// InvalidInput on a blank or unrecognized URL, and with StageConflict while
// a previous run is still going.
func (y *YouTube) Run(ctx context.Context, videoURL string) error {
	videoURL = strings.TrimSpace(videoURL)
	if videoURL == "" {
		return agents.InvalidInput("video URL is empty")
	}
	id, ok := yt.ExtractVideoID(videoURL)
	if !ok {
		return agents.InvalidInput("invalid YouTube URL")
	}

	y.mu.Lock()
	if y.running {
		y.mu.Unlock()
		return agents.StageConflict("a video is already being processed")
	}
	y.running = true
	y.videoURL, y.videoID, y.sourceLang = videoURL, id, ""
	y.mu.Unlock()
	defer func() {
		y.mu.Lock()
		y.running = false
		y.mu.Unlock()
	}()
	y.p.Reset()

	var transcript yt.Transcript
	err := y.p.Exec(ctx, StageTranscript, func(ctx context.Context, emit Emit) error {
		var err error
		transcript, err = y.transcripts.Fetch(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch transcript: %w", err)
		}
		y.mu.Lock()
		y.sourceLang = transcript.Language
		y.mu.Unlock()
		emit(transcript.Text)
		return nil
	})
	if err != nil {
		return err
	}

	text := transcript.Text
	err = y.p.Exec(ctx, StageTranslation, func(ctx context.Context, emit Emit) error {
		if yt.SameLanguage(transcript.Language, y.targetLanguage) {
			emit(fmt.Sprintf("Transcript already in %s; translation skipped.", yt.LanguageName(transcript.Language)))
			return nil
		}
		out, err := StreamText(ctx, y.client, translatePrompt(yt.LanguageName(y.targetLanguage), transcript.Text), emit)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return err
	}

	return y.p.Exec(ctx, StageSummary, func(ctx context.Context, emit Emit) error {
		_, err := y.summarize(ctx, text, emit)
		return err
	})
}

func (y *YouTube) summarize(ctx context.Context, text string, emit Emit) (string, error) {
	lang := yt.LanguageName(y.targetLanguage)
	parts := tools.SplitChunks(text, y.ChunkChars, defaultChunkOverlap)
	if len(parts) == 1 {
		return StreamText(ctx, y.client, summaryPrompt(lang, text), emit)
	}

	// map phase, index-addressed so section order survives concurrency
	sums := make([]string, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkParallelism)
	for i, part := range parts {
		g.Go(func() error {
			s, err := y.client.GenerateText(gctx, chunkSummaryPrompt(i+1, len(parts), part))
			if err != nil {
				return fmt.Errorf("summarize section %d: %w", i+1, err)
			}
			sums[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	var combined strings.Builder
	for i, s := range sums {
		fmt.Fprintf(&combined, "\n\n[Section %d]\n%s", i+1, s)
	}
	return StreamText(ctx, y.client, reduceSummaryPrompt(lang, combined.String()), emit)
}

// SourceLanguage returns the display name of the last transcript's language.
func (y *YouTube) SourceLanguage() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.sourceLang == "" {
		return ""
	}
	return yt.LanguageName(y.sourceLang)
}

func (y *YouTube) Busy() bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.running
}

func (y *YouTube) Snapshot() models.YouTubeSnapshot {
	y.mu.Lock()
	snap := models.YouTubeSnapshot{
		VideoURL:       y.videoURL,
		VideoID:        y.videoID,
		TargetLanguage: y.targetLanguage,
	}
	y.mu.Unlock()
	snap.SourceLanguage = y.SourceLanguage()
	snap.Stages = y.p.Snapshot()
	return snap
}
