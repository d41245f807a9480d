package cliui_test

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/cliui"
)

var _ = Describe("ProgressBar", func() {
	DescribeTable("fills proportionally",
		func(percent float64, filled int, label string) {
			bar := ansi.Strip(cliui.ProgressBar(percent, 10))
			Expect(strings.Count(bar, "█")).To(Equal(filled))
			Expect(strings.Count(bar, "░")).To(Equal(10 - filled))
			Expect(bar).To(HaveSuffix(label))
		},
		Entry("empty", 0.0, 0, "  0.0%"),
		Entry("half", 50.0, 5, " 50.0%"),
		Entry("full", 100.0, 10, "100.0%"),
		Entry("clamped above", 140.0, 10, "100.0%"),
		Entry("clamped below", -3.0, 0, "  0.0%"),
	)
})

var _ = Describe("StatusMark", func() {
	It("distinguishes task statuses", func() {
		Expect(cliui.StatusMark("completed")).To(Equal(cliui.SuccessMark))
		Expect(cliui.StatusMark("failed")).To(Equal(cliui.FailMark))
		Expect(cliui.StatusMark("processing")).To(Equal(cliui.RunningMark))
		Expect(cliui.StatusMark("pending")).To(Equal(cliui.PendingMark))
	})
})

var _ = Describe("Step", func() {
	It("returns the step error and prints the message", func() {
		var buf bytes.Buffer
		want := errors.New("boom")
		err := cliui.Step(&buf, "vectorizing", func() error { return want })
		Expect(err).To(MatchError(want))

		text := ansi.Strip(buf.String())
		Expect(text).To(HavePrefix("\r  ✗ vectorizing ("))
		Expect(strings.Count(text, "vectorizing")).To(Equal(1))
	})

	It("marks success", func() {
		var buf bytes.Buffer
		Expect(cliui.Step(&buf, "ingesting", func() error { return nil })).To(Succeed())
		Expect(ansi.Strip(buf.String())).To(MatchRegexp(`✓ ingesting \(\d+ms\)\n$`))
	})

	It("does not treat buffers as terminals", func() {
		Expect(cliui.IsTerminal(&bytes.Buffer{})).To(BeFalse())
	})
})

var _ = Describe("FormatDuration", func() {
	It("uses milliseconds below a second", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})
