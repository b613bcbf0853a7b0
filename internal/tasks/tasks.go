package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/PNeves10/aiquira-mvp/internal/config"
	"github.com/PNeves10/aiquira-mvp/internal/email"
	"github.com/PNeves10/aiquira-mvp/internal/storage"
)

// ImageAttacher is the slice of the listing service the image worker needs.
type ImageAttacher interface {
	AttachImage(ctx context.Context, listingID primitive.ObjectID, key string) error
}

const (
	TypeEmailDelivery = "email:deliver"
	TypeImageProcess  = "image:process"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
	QueueImages   = "images"
)

// Built-in email templates, rendered with {{.key}} placeholder replacement.
var emailTemplates = map[string]struct {
	Subject string
	Body    string
}{
	"welcome": {
		Subject: "Welcome to {{.app}}!",
		Body:    "Hi {{.username}},\n\nYour {{.app}} account is ready. Browse the marketplace, favorite listings you like, and come talk to other members in the community chat.\n\nThe {{.app}} team",
	},
	"purchase_buyer": {
		Subject: "Your {{.app}} purchase is confirmed",
		Body:    "Hi {{.username}},\n\nYour purchase of {{.listing}} for {{.amount}} is complete. The seller has been notified and will be in touch about the transfer.\n\nThe {{.app}} team",
	},
	"purchase_seller": {
		Subject: "Your listing {{.listing}} has been sold",
		Body:    "Hi {{.username}},\n\nGood news: {{.listing}} has been sold for {{.amount}}. Reach out to the buyer to arrange the transfer.\n\nThe {{.app}} team",
	},
	"chat_mention": {
		Subject: "You were mentioned in the {{.app}} chat",
		Body:    "Hi {{.username}},\n\n{{.from}} mentioned you in chat:\n\n  {{.text}}\n\nThe {{.app}} team",
	},
}

// --- Task construction (enqueuing side) ---

type EmailTaskPayload struct {
	To       string                 `json:"to"`
	Template string                 `json:"template"`
	Data     map[string]interface{} `json:"data"`
}

func NewEmailDeliveryTask(to, template string, data map[string]interface{}) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailTaskPayload{To: to, Template: template, Data: data})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailDelivery, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

func NewImageProcessTask(s3Key string, listingID primitive.ObjectID) (*asynq.Task, error) {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: s3Key, ListingID: listingID.Hex()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeImageProcess, payload, asynq.Queue(QueueImages), asynq.MaxRetry(3)), nil
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	})
}

// --- Task processing ---

// TaskProcessor holds the dependencies task handlers need.
type TaskProcessor struct {
	cfg            *config.Config
	emailSender    email.Sender
	storageService storage.IS3Storage
	listingService ImageAttacher
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	storageService storage.IS3Storage,
	listingService ImageAttacher,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		emailSender:    emailSender,
		storageService: storageService,
		listingService: listingService,
	}
}

// SetupServer configures an Asynq server for the requested worker modes and
// returns it together with a mux carrying the registered handlers. The caller
// runs it. Returns nils when neither mode is enabled (API-only process).
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		asynq.Config{
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
				QueueImages:   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		log.Println("Registered background task handlers.")
	}

	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		log.Println("Registered image processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		log.Println("Running in API mode, no task server started.")
		return nil, nil
	}

	return srv, mux
}

// HandleEmailDeliveryTask renders a built-in template and hands the result to
// the configured sender.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	tmpl, ok := emailTemplates[payload.Template]
	if !ok {
		return fmt.Errorf("unknown email template %q: %w", payload.Template, asynq.SkipRetry)
	}

	data := payload.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	if _, ok := data["app"]; !ok {
		data["app"] = p.cfg.AppName
	}

	subject := tmpl.Subject
	body := tmpl.Body
	for key, val := range data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		valueStr := fmt.Sprintf("%v", val)
		subject = strings.ReplaceAll(subject, placeholder, valueStr)
		body = strings.ReplaceAll(body, placeholder, valueStr)
	}

	fromAddress := p.cfg.SmtpFromAddress

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	sb.WriteString("\r\n")

	if err := p.emailSender.Send(ctx, []string{payload.To}, subject, []byte(sb.String())); err != nil {
		log.Printf("Email sending failed (will retry): %v", err)
		return err
	}

	log.Printf("Email task processed: To=%s, Template=%s", payload.To, payload.Template)
	return nil
}

// HandleImageProcessTask normalizes an uploaded listing image: downloads the
// raw object, enforces the size cap, resizes to the configured bound,
// re-encodes as JPEG, writes the processed variant, and attaches its key to
// the listing.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := primitive.ObjectIDFromHex(payload.ListingID)
	if err != nil {
		log.Printf("Invalid ListingID in image task payload: %s", payload.ListingID)
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)

	imgData, err := p.storageService.Download(ctx, payload.S3Key)
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") {
			log.Printf("S3 object %s not found, likely upload failed.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Discarding.", payload.S3Key, len(imgData), maxSizeBytes)
		if delErr := p.storageService.Delete(ctx, payload.S3Key); delErr != nil {
			log.Printf("Failed to delete oversized object %s: %v", payload.S3Key, delErr)
		}
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxDim := uint(p.cfg.ImageMaxDimension)
	resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to encode processed image: %w", err)
	}

	processedKey := processedKeyFor(payload.S3Key)
	if err := p.storageService.Put(ctx, processedKey, "image/jpeg", buf.Bytes()); err != nil {
		return fmt.Errorf("failed to upload processed image: %w", err)
	}

	if err := p.listingService.AttachImage(ctx, listingID, processedKey); err != nil {
		log.Printf("Error attaching image key %s to listing %s: %v", processedKey, payload.ListingID, err)
		return fmt.Errorf("failed to update listing with processed image: %w", err)
	}

	log.Printf("Image task processed: Key=%s, ListingID=%s", processedKey, payload.ListingID)
	return nil
}

// processedKeyFor derives the processed variant's key from the raw upload key.
// Raw uploads live under uploads/, processed variants under images/.
func processedKeyFor(rawKey string) string {
	trimmed := strings.TrimPrefix(rawKey, "uploads/")
	base := strings.TrimSuffix(trimmed, ".png")
	base = strings.TrimSuffix(base, ".jpeg")
	base = strings.TrimSuffix(base, ".jpg")
	base = strings.TrimSuffix(base, ".gif")
	base = strings.TrimSuffix(base, ".webp")
	return "images/" + base + ".jpg"
}
