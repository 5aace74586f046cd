package sql_test

import (
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/yydzero/pgwire/sql"
)

var _ = Describe("NewSession", func() {
	args := sql.ConnectionArgs{Database: "test", User: "xiaowang"}

	It("records the client address", func() {
		s := sql.NewSession(args, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5433})
		Expect(s.Remote).To(Equal("127.0.0.1:5433"))
		Expect(s.User).To(Equal("xiaowang"))
		Expect(s.Database).To(Equal("test"))
		Expect(s.TxnState.State).To(Equal(sql.Idle))
	})

	It("accepts a missing address", func() {
		Expect(sql.NewSession(args, nil).Remote).To(BeEmpty())
	})
})
