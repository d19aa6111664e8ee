//go:build smoke

package smoke_test

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kirillkom/idverify/internal/core/domain"
)

var _ = Describe("Verification API", Ordered, func() {
	var (
		cfg    smokeConfig
		client *apiClient
	)

	BeforeAll(func() {
		if os.Getenv("RUN_SMOKE_TESTS") != "1" {
			Skip("set RUN_SMOKE_TESTS=1 to run against a deployed stack")
		}
		cfg = loadSmokeConfig()
		client = newAPIClient(cfg)

		By("waiting for the API to report ready")
		Eventually(func() (int, error) {
			return client.getJSON("/readyz", nil)
		}, 30*time.Second, time.Second).Should(Equal(http.StatusOK))
	})

	Describe("health", func() {
		It("answers liveness", func() {
			var body map[string]string
			code, err := client.getJSON("/healthz", &body)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "ok"))
		})
	})

	Describe("auth", func() {
		It("rejects a review callback without a bearer token", func() {
			code, _, err := client.status(http.MethodPost, "/internal/reviews/callback",
				http.Header{"Content-Type": []string{"application/json"}},
				strings.NewReader(`{"ticketId":"ESC-0","decision":"approved"}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects a review callback with the wrong token", func() {
			code, _, err := client.status(http.MethodPost, "/internal/reviews/callback",
				http.Header{
					"Content-Type":  []string{"application/json"},
					"Authorization": []string{"Bearer not-the-token"},
				},
				strings.NewReader(`{"ticketId":"ESC-0","decision":"approved"}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the configured token and reports an unknown document", func() {
			if cfg.InternalToken == "" {
				Skip("SMOKE_INTERNAL_TOKEN is not set")
			}
			code, _, err := client.status(http.MethodPost, "/internal/reviews/callback",
				http.Header{
					"Content-Type":  []string{"application/json"},
					"Authorization": []string{"Bearer " + cfg.InternalToken},
				},
				strings.NewReader(fmt.Sprintf(`{"ticketId":"ESC-smoke-%d","documentId":"00000000-0000-0000-0000-000000000000","decision":"approved"}`, time.Now().UnixNano())))
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("documents", func() {
		var uploaded domain.Document

		It("rejects an unsupported document type", func() {
			code, _, err := client.upload("PASSPORT", "smoke-user", "passport.txt", "text/plain", []byte(sampleKTP))
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusBadRequest))
		})

		It("accepts a KTP upload as pending", func() {
			code, doc, err := client.upload("ktp", "smoke-user", "ktp.txt", "text/plain", []byte(sampleKTP))
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusAccepted))
			Expect(doc.ID).ToNot(BeEmpty())
			Expect(doc.Type).To(Equal(domain.DocumentTypeKTP))
			Expect(doc.Status).To(Equal(domain.StatusPending))
			uploaded = doc
		})

		It("returns 404 for an unknown document", func() {
			code, err := client.getJSON("/v1/documents/00000000-0000-0000-0000-000000000000", nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusNotFound))
		})

		It("verifies the uploaded document", func() {
			if !cfg.RequireSettled {
				Skip("SMOKE_REQUIRE_SETTLED=0")
			}
			Expect(uploaded.ID).ToNot(BeEmpty())

			var doc domain.Document
			Eventually(func() (domain.VerificationStatus, error) {
				code, err := client.getJSON("/v1/documents/"+uploaded.ID, &doc)
				if err != nil {
					return "", err
				}
				if code != http.StatusOK {
					return "", fmt.Errorf("unexpected status %d", code)
				}
				return doc.Status, nil
			}, cfg.VerifyTimeout, cfg.PollInterval).Should(BeElementOf(
				domain.StatusAutoApproved,
				domain.StatusPendingManualReview,
			))

			Expect(doc.AIScore).ToNot(BeNil())
			Expect(*doc.AIScore).To(BeNumerically(">=", 0))
			Expect(*doc.AIScore).To(BeNumerically("<=", 100))
			Expect(doc.AIDecision).ToNot(BeNil())
			Expect(doc.ParsedFields).To(HaveKeyWithValue("nik", "3174012345678901"))
		})
	})

	Describe("queue", func() {
		It("reports non-negative lengths", func() {
			var stats domain.QueueStats
			code, err := client.getJSON("/v1/queue/stats", &stats)
			Expect(err).ToNot(HaveOccurred())
			Expect(code).To(Equal(http.StatusOK))
			Expect(stats.Queued).To(BeNumerically(">=", 0))
			Expect(stats.Processing).To(BeNumerically(">=", 0))
			Expect(stats.Delayed).To(BeNumerically(">=", 0))
		})

		It("drains the processing set once work settles", func() {
			if !cfg.RequireSettled {
				Skip("SMOKE_REQUIRE_SETTLED=0")
			}
			Eventually(func() (int64, error) {
				var stats domain.QueueStats
				if _, err := client.getJSON("/v1/queue/stats", &stats); err != nil {
					return -1, err
				}
				return stats.Processing, nil
			}, cfg.VerifyTimeout, cfg.PollInterval).Should(BeZero())
		})
	})
})
