package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"officeagent/internal/botframework"
	"officeagent/internal/domain"
	"officeagent/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
)

// Replies sent to Teams users.
const (
	msgAccessDenied   = "Zugriff verweigert: Ihr Azure-Mandant ist nicht für diesen Bot autorisiert."
	msgEmptyMessage   = "Bitte senden Sie eine Textnachricht oder eine Datei als Anhang."
	msgProcessing     = "Ihre Anfrage wird verarbeitet, bitte warten …"
	msgNoDownloadURL  = "Die Datei konnte nicht heruntergeladen werden: keine Download-URL vorhanden."
	msgDownloadStatus = "Datei-Download fehlgeschlagen (HTTP %d)."
	msgDownloadError  = "Beim Herunterladen der Datei ist ein Fehler aufgetreten: %v"
	msgFileReceived   = "Datei '%s' wurde empfangen und gespeichert. Verarbeitung läuft …"
	msgInternalError  = "Es ist ein interner Fehler aufgetreten. Bitte versuchen Sie es erneut."

	uploadInstruction = "Eine Datei wurde hochgeladen und unter folgendem Pfad gespeichert: %s. " +
		"Dateiname: %s. Bitte verarbeite diese Datei entsprechend."
)

const (
	maxActivityBytes      = 1 << 20
	defaultMaxConcurrency = 8
	shutdownTimeout       = 10 * time.Second
)

var documentIDPattern = regexp.MustCompile(`Document ID:\s*(\S+)`)

// ExtractDocumentID returns the accounting document id from an upload
// confirmation, or "" when the text contains none.
func ExtractDocumentID(text string) string {
	m := documentIDPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// TeamsConfig wires the bot server. Runner, Authenticator and Replier are
// required; everything else has a default.
type TeamsConfig struct {
	Addr string
	// AllowedTenant restricts the bot to one Azure AD tenant. Empty disables
	// the check.
	AllowedTenant      string
	UploadsDir         string
	MaxConcurrentRuns  int
	MaxAttachmentBytes int64

	Runner        domain.Runner
	Authenticator botframework.Authenticator
	Replier       botframework.Replier
	HTTPClient    *http.Client // attachment downloads
	Logger        *slog.Logger
}

// Teams serves the Bot Framework messaging endpoint.
type Teams struct {
	addr          string
	allowedTenant string
	runner        domain.Runner
	auth          botframework.Authenticator
	replier       botframework.Replier
	httpClient    *http.Client
	uploads       *UploadStore
	runs          *semaphore.Weighted
	router        *mux.Router
	logger        *slog.Logger
	now           func() time.Time
}

func NewTeams(cfg TeamsConfig) *Teams {
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:3978"
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = defaultMaxConcurrency
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = botframework.NoAuth{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Teams{
		addr:          cfg.Addr,
		allowedTenant: cfg.AllowedTenant,
		runner:        cfg.Runner,
		auth:          cfg.Authenticator,
		replier:       cfg.Replier,
		httpClient:    cfg.HTTPClient,
		uploads:       NewUploadStore(cfg.UploadsDir, cfg.MaxAttachmentBytes, cfg.Logger),
		runs:          semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		logger:        cfg.Logger,
		now:           time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/messages", t.handleMessages).Methods(http.MethodPost)
	r.HandleFunc("/healthz", t.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Collector.Handler()).Methods(http.MethodGet)
	t.router = r

	return t
}

func (t *Teams) Name() string { return "teams" }

// Handler exposes the routes without starting a listener.
func (t *Teams) Handler() http.Handler { return t.router }

// Start creates the uploads directory and serves until ctx is cancelled.
func (t *Teams) Start(ctx context.Context) error {
	if err := t.uploads.EnsureDir(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              t.addr,
		Handler:           t.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	t.logger.Info("teams bot server starting",
		"addr", t.addr,
		"endpoint", "http://"+t.addr+"/api/messages",
		"tenant_restricted", t.allowedTenant != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("teams bot server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("teams server: %w", err)
	}
}

func (t *Teams) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (t *Teams) handleMessages(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		http.Error(w, "Content-Type must be application/json.", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxActivityBytes))
	if err != nil {
		http.Error(w, "Invalid JSON body.", http.StatusBadRequest)
		return
	}
	var activity botframework.Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		http.Error(w, "Invalid JSON body.", http.StatusBadRequest)
		return
	}

	if err := t.auth.Authenticate(r.Context(), r.Header.Get("Authorization"), &activity); err != nil {
		metrics.AuthFailures.Inc()
		t.logger.Warn("activity rejected by token validation", "error", err, "channel", activity.ChannelID)
		if errors.Is(err, botframework.ErrForbidden) {
			http.Error(w, "Forbidden", http.StatusForbidden)
		} else {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
		return
	}

	turnID := uuid.NewString()
	ctx := domain.WithTurnID(r.Context(), turnID)
	logger := t.logger.With("turn", turnID)

	if err := t.processActivity(ctx, logger, &activity); err != nil {
		metrics.HandlerFailures.Inc()
		logger.Error("error while processing activity", "error", err)
		if replyErr := t.replier.Reply(context.WithoutCancel(ctx), &activity, msgInternalError); replyErr != nil {
			logger.Warn("failed to send apology", "error", replyErr)
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// processActivity runs one turn. Panics are turned into errors so a single
// bad activity never takes the server down.
func (t *Teams) processActivity(ctx context.Context, logger *slog.Logger, activity *botframework.Activity) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	metrics.ActivitiesTotal.Inc()
	logger.Info("incoming activity",
		"type", activity.Type,
		"user", userID(activity),
		"channel", lo.Ternary(activity.ChannelID != "", activity.ChannelID, "unknown"),
	)

	if activity.Type != botframework.ActivityTypeMessage {
		return nil
	}
	return t.onMessage(ctx, logger, activity)
}

func (t *Teams) onMessage(ctx context.Context, logger *slog.Logger, activity *botframework.Activity) error {
	if t.allowedTenant != "" {
		if tenant := activity.TenantID(); tenant != t.allowedTenant {
			metrics.TenantRejections.Inc()
			logger.Warn("rejected activity from unauthorized tenant", "tenant", tenant, "user", userID(activity))
			return t.reply(ctx, activity, msgAccessDenied)
		}
	}

	if att, ok := lo.Find(activity.Attachments, func(a botframework.Attachment) bool {
		return a.ContentType == botframework.ContentTypeFileDownloadInfo
	}); ok {
		return t.handleAttachment(ctx, logger, activity, att)
	}

	text := strings.TrimSpace(activity.Text)
	if text == "" {
		return t.reply(ctx, activity, msgEmptyMessage)
	}

	logger.Info("text message", "user", userID(activity), "length", len(text))
	if err := t.reply(ctx, activity, msgProcessing); err != nil {
		return err
	}

	resp, err := t.run(ctx, text)
	if err != nil {
		return err
	}
	return t.reply(context.WithoutCancel(ctx), activity, resp)
}

// handleAttachment downloads a Teams file into the uploads directory and asks
// the runner to process it.
func (t *Teams) handleAttachment(ctx context.Context, logger *slog.Logger, activity *botframework.Activity, att botframework.Attachment) error {
	downloadURL := att.DownloadURL()
	if downloadURL == "" {
		return t.reply(ctx, activity, msgNoDownloadURL)
	}

	filename := AttachmentFilename(att.Name, t.now())

	stored, status, err := t.download(ctx, downloadURL, filename)
	switch {
	case err != nil:
		logger.Error("failed to download attachment", "filename", filename, "error", err)
		return t.reply(ctx, activity, fmt.Sprintf(msgDownloadError, err))
	case status != http.StatusOK:
		logger.Warn("attachment download refused", "filename", filename, "status", status)
		return t.reply(ctx, activity, fmt.Sprintf(msgDownloadStatus, status))
	}

	metrics.AttachmentsTotal.Inc()
	logger.Info("file upload received",
		"user", userID(activity),
		"filename", filename,
		"size", stored.Size,
	)

	if err := t.reply(ctx, activity, fmt.Sprintf(msgFileReceived, filename)); err != nil {
		return err
	}

	resp, err := t.run(ctx, fmt.Sprintf(uploadInstruction, stored.Path, filename))
	if err != nil {
		return err
	}

	if id := ExtractDocumentID(resp); id != "" {
		logger.Info("lexoffice upload confirmed", "filename", filename, "document_id", id)
	}
	return t.reply(context.WithoutCancel(ctx), activity, resp)
}

// download fetches url into the upload store. A non-200 status is returned
// without an error and without touching the disk.
func (t *Teams) download(ctx context.Context, url, filename string) (*StoredFile, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	stored, err := t.uploads.Save(filename, resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return stored, resp.StatusCode, nil
}

type runResult struct {
	resp string
	err  error
}

// run executes the runner on the bounded worker pool and waits for it.
// Waiting for a slot honours ctx; the runner itself is detached from ctx so a
// caller that hangs up does not abort a turn already in progress. Replies sent
// after run must likewise use context.WithoutCancel.
func (t *Teams) run(ctx context.Context, message string) (string, error) {
	if err := t.runs.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire worker: %w", err)
	}
	runCtx := context.WithoutCancel(ctx)

	done := make(chan runResult, 1)
	go func() {
		defer t.runs.Release(1)
		defer func() {
			if rec := recover(); rec != nil {
				done <- runResult{err: fmt.Errorf("runner panic: %v", rec)}
			}
		}()

		metrics.RunsInFlight.Inc()
		defer metrics.RunsInFlight.Dec()
		start := time.Now()
		defer metrics.RunLatency.ObserveSince(start)

		resp, err := t.runner.Run(runCtx, message)
		done <- runResult{resp: resp, err: err}
	}()

	res := <-done
	if res.err != nil {
		return "", fmt.Errorf("runner: %w", res.err)
	}
	return res.resp, nil
}

func (t *Teams) reply(ctx context.Context, activity *botframework.Activity, text string) error {
	if err := t.replier.Reply(ctx, activity, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func userID(a *botframework.Activity) string {
	if a.From.ID == "" {
		return "unknown"
	}
	return a.From.ID
}

var _ domain.Channel = (*Teams)(nil)
