//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
	"github.com/eliteGoblin/focusd/bgsvc/internal/transport"
)

// nextPayload waits for the next invoke message and decodes its data.
func nextPayload(a *transport.Attachment) map[string]any {
	var m transport.Message
	for {
		EventuallyWithOffset(1, a.Messages(), 3*time.Second).Should(Receive(&m))
		if m.Type == transport.MessageInvoke {
			break
		}
	}
	var payload map[string]any
	ExpectWithOffset(1, json.Unmarshal(m.Data, &payload)).To(Succeed())
	return payload
}

var _ = Describe("Background service", func() {
	var (
		s   *stack
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if s != nil {
			s.close()
			s = nil
		}
	})

	Describe("starting", func() {
		BeforeEach(func() {
			s = newStack(time.Minute, map[string]string{domain.KeyResumeToken: "abc"})
		})

		It("starts stopped and runs the worker on start", func() {
			Expect(s.state()).To(Equal("stopped"))

			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))
		})

		It("shows the notification the worker sets, with its resume token", func() {
			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())

			Eventually(s.notifications, 3*time.Second).Should(ContainElement(
				And(
					HaveField("Title", "Worker"),
					HaveField("Body", "token:abc"),
				),
			))
		})

		It("arms a restart alarm while running", func() {
			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))

			report, err := s.client.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Restart).NotTo(BeNil())
			_, ok := s.settings.WatchdogDueAt()
			Expect(ok).To(BeTrue())
		})

		It("ignores a second start while running", func() {
			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))

			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Consistently(s.state, 300*time.Millisecond).Should(Equal("running"))
		})
	})

	Describe("relaying data", func() {
		BeforeEach(func() {
			s = newStack(time.Minute, nil)
			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))
		})

		It("echoes client payloads to every attached client", func() {
			first := s.attach("first", 1)
			defer first.Close()
			second := s.attach("second", 2)
			defer second.Close()

			Expect(first.Send(json.RawMessage(`{"hello":"world"}`))).To(Succeed())

			for _, a := range []*transport.Attachment{first, second} {
				payload := nextPayload(a)
				Expect(payload).To(HaveKeyWithValue("echo", HaveKeyWithValue("hello", "world")))
			}
		})

		It("accepts payloads posted over HTTP", func() {
			a := s.attach("watcher", 1)
			defer a.Close()

			Expect(s.client.Invoke(ctx, json.RawMessage(`{"n":1}`))).To(Succeed())
			Expect(nextPayload(a)).To(HaveKeyWithValue("echo", HaveKeyWithValue("n", BeNumerically("==", 1))))
		})

		It("rejects payloads that are not objects", func() {
			Expect(s.client.Invoke(ctx, json.RawMessage(`[1,2]`))).NotTo(Succeed())
		})

		It("stops delivering to a client after it detaches", func() {
			gone := s.attach("gone", 1)
			stays := s.attach("stays", 2)
			defer stays.Close()

			Expect(gone.Close()).To(Succeed())
			Eventually(func() int {
				report, err := s.client.Status(ctx)
				Expect(err).NotTo(HaveOccurred())
				return report.Clients
			}, 2*time.Second).Should(Equal(1))

			Expect(stays.Send(json.RawMessage(`{"after":"detach"}`))).To(Succeed())
			Expect(nextPayload(stays)).To(HaveKey("echo"))
		})

		It("updates the notification on request", func() {
			a := s.attach("editor", 1)
			defer a.Close()

			Expect(a.Send(json.RawMessage(`{"cmd":"title","arg":"busy"}`))).To(Succeed())
			nextPayload(a)
			Eventually(s.notifications, 2*time.Second).Should(ContainElement(HaveField("Body", "busy")))
		})

		It("hides the notification when the worker leaves foreground mode", func() {
			a := s.attach("mode", 1)
			defer a.Close()

			Expect(a.Send(json.RawMessage(`{"cmd":"background"}`))).To(Succeed())

			received := []map[string]any{nextPayload(a), nextPayload(a)}
			Expect(received).To(ContainElement(HaveKeyWithValue("mode", "background")))
			Expect(s.settings.IsForeground()).To(BeFalse())
			Eventually(s.notifications, 2*time.Second).Should(BeEmpty())
		})
	})

	Describe("stopping", func() {
		BeforeEach(func() {
			s = newStack(time.Minute, nil)
			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))
		})

		It("stops for good when the worker asks to", func() {
			a := s.attach("observer", 1)
			defer a.Close()

			Expect(a.Send(json.RawMessage(`{"cmd":"stop"}`))).To(Succeed())

			Eventually(a.Messages(), 3*time.Second).Should(Receive(HaveField("Type", transport.MessageStop)))
			Eventually(s.sup.ManualStop(), 3*time.Second).Should(BeClosed())
			Expect(s.state()).To(Equal("stopped"))
			Expect(s.settings.IsManuallyStopped()).To(BeTrue())
			_, pending := s.settings.WatchdogDueAt()
			Expect(pending).To(BeFalse())
			Expect(s.notifications()).To(BeEmpty())
		})

		It("stops on a control request", func() {
			Expect(s.client.Control(ctx, transport.ActionStop)).To(Succeed())

			Eventually(s.sup.ManualStop(), 3*time.Second).Should(BeClosed())
			Expect(s.settings.IsManuallyStopped()).To(BeTrue())

			restart, err := s.sup.OnDestroy()
			Expect(err).NotTo(HaveOccurred())
			Expect(restart).To(BeFalse())
		})

		It("clears the manual stop on the next start", func() {
			Expect(s.client.Control(ctx, transport.ActionStop)).To(Succeed())
			Eventually(s.sup.ManualStop(), 3*time.Second).Should(BeClosed())

			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))
			Expect(s.settings.IsManuallyStopped()).To(BeFalse())
		})
	})

	Describe("recovering", func() {
		BeforeEach(func() {
			s = newStack(300*time.Millisecond, nil)
			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))
		})

		It("restarts the worker after an abnormal teardown", func() {
			restart, err := s.sup.OnDestroy()
			Expect(err).NotTo(HaveOccurred())
			Expect(restart).To(BeTrue())

			_, pending := s.settings.WatchdogDueAt()
			Expect(pending).To(BeTrue())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))
		})

		It("keeps a pending restart when the task is removed", func() {
			Expect(s.client.Control(ctx, transport.ActionTaskRemoved)).To(Succeed())

			Eventually(func() *time.Time {
				report, err := s.client.Status(ctx)
				if err != nil {
					return nil
				}
				return report.Restart
			}, 2*time.Second).ShouldNot(BeNil())
			Expect(s.state()).To(Equal("running"))
		})
	})

	Describe("metrics", func() {
		It("exports supervisor metrics", func() {
			s = newStack(time.Minute, nil)
			Expect(s.client.Control(ctx, transport.ActionStart)).To(Succeed())
			Eventually(s.state, 3*time.Second).Should(Equal("running"))

			body, err := s.client.Metrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(ContainSubstring("bgsvc_"))
		})
	})
})
