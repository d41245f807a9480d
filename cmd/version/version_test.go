package versioncmder_test

import (
	"bytes"
	"runtime"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	versioncmder "github.com/papercomputeco/quarry/cmd/version"
	"github.com/papercomputeco/quarry/pkg/utils"
)

var _ = Describe("version", func() {
	run := func(args ...string) (string, error) {
		cmd := versioncmder.NewVersionCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	It("prints build details", func() {
		out, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HavePrefix("quarry " + utils.Version + "\n"))
		Expect(out).To(ContainSubstring("commit:   " + utils.Sha))
		Expect(out).To(ContainSubstring(runtime.GOOS + "/" + runtime.GOARCH))
	})

	It("prints only the version with --short", func() {
		out, err := run("--short")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(utils.Version + "\n"))
	})

	It("rejects arguments", func() {
		_, err := run("extra")
		Expect(err).To(HaveOccurred())
	})
})
