package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moshe-connectio/car-template-demo/internal/config"
	"github.com/moshe-connectio/car-template-demo/internal/fetcher"
	collyfetcher "github.com/moshe-connectio/car-template-demo/internal/fetcher/colly"
	"github.com/moshe-connectio/car-template-demo/internal/id/uuid"
	"github.com/moshe-connectio/car-template-demo/internal/ingest"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
	pubmemory "github.com/moshe-connectio/car-template-demo/internal/publisher/memory"
	"github.com/moshe-connectio/car-template-demo/internal/resolver"
	"github.com/moshe-connectio/car-template-demo/internal/storage/memory"
	"github.com/moshe-connectio/car-template-demo/internal/upload"
	"github.com/moshe-connectio/car-template-demo/internal/webhook"
)

type pipelineClock struct{}

func (pipelineClock) Now() time.Time { return time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC) }

func TestWebhookPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/front.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG front"))
		case "/side.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg side"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(images.Close)

	transport := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	res := resolver.New(resolver.Config{DriveHosts: []string{"drive.google.com"}}, resolver.NewExtractor(transport))
	downloader := fetcher.NewDownloader(transport, res, zap.NewNop())
	blobs := memory.NewBlobStore("https://cdn.test")
	uploader := upload.New(blobs, pipelineClock{}, "vehicles")
	ids := uuid.New()
	orchestrator := ingest.New(ingest.Config{MaxImages: 10}, downloader, uploader, ids, pipelineClock{}, zap.NewNop())
	store := memory.NewStore(ids, pipelineClock{})
	publisher := pubmemory.New(nil)
	coordinator := webhook.NewCoordinator(store, store, orchestrator, publisher, pipelineClock{}, "", zap.NewNop())
	server := newTestServer(coordinator, config.Config{})

	body := `{"crmid":"CRM-77","main_image_url":"` + images.URL + `/front.png","data":{"slug":"skoda-octavia-2020",
		"title":"Skoda Octavia","brand":"Skoda","model":"Octavia","year":"2020","price":99000,"hand":"שנייה"},
		"images":[{"image_url":"` + images.URL + `/side.jpg","position":2},
		{"image_url":"` + images.URL + `/missing.jpg","position":3}]}`

	rec := serve(server, http.MethodPost, "/api/webhooks/vehicles", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.ImagesAdded)
	require.Equal(t, 2, blobs.Len())

	rec = serve(server, http.MethodGet, "/api/vehicles/"+resp.VehicleID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v inventory.Vehicle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, 2, *v.Hand)
	require.Len(t, v.Images, 2)
	require.Equal(t, 1, v.Images[0].Position)
	require.True(t, strings.HasPrefix(v.Images[0].ImageURL, "https://cdn.test/vehicles/"), v.Images[0].ImageURL)
	require.True(t, strings.HasSuffix(v.Images[0].ImageURL, "/1-1749544200000.png"), v.Images[0].ImageURL)
	require.True(t, strings.HasSuffix(v.Images[1].ImageURL, "/2-1749544200000.jpg"), v.Images[1].ImageURL)

	rec = serve(server, http.MethodPost, "/api/webhooks/vehicles/mark-sold", `{"crmid":"CRM-77"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, publisher.ForTopic(webhook.DefaultTopic), 2)
}
