package libpq

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("readBuffer", func() {
	It("reads bytes in order", func() {
		buf := readBuffer{msg: []byte{1, 2, 3}}
		b, err := buf.getBytes(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{1, 2}))
		Expect(buf.msg).To(Equal([]byte{3}))
	})

	It("rejects negative lengths", func() {
		buf := readBuffer{msg: []byte{1, 2, 3}}
		_, err := buf.getBytes(-2)
		Expect(err).To(MatchError(ContainSubstring("invalid length")))
		Expect(buf.msg).To(HaveLen(3))
	})

	It("rejects lengths past the end of the message", func() {
		buf := readBuffer{msg: []byte{1}}
		_, err := buf.getBytes(2)
		Expect(err).To(MatchError(ContainSubstring("insufficient data")))
	})
})
