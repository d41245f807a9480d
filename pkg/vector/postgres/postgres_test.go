package postgres_test

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quarry/pkg/logger"
	testutils "github.com/papercomputeco/quarry/pkg/utils/test"
	"github.com/papercomputeco/quarry/pkg/vector"
	"github.com/papercomputeco/quarry/pkg/vector/postgres"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("QUARRY_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("QUARRY_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func resetTables(ctx context.Context, dsn string) {
	conn, err := pgx.Connect(ctx, dsn)
	Expect(err).NotTo(HaveOccurred())
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `DROP TABLE IF EXISTS chunks, documents`)
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("Store", func() {
	It("requires a dsn", func() {
		_, err := postgres.NewStore(context.Background(), postgres.Config{}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("dsn is required")))
	})

	Context("against a live database", func() {
		testutils.DescribeStoreContract(func() vector.Store {
			ctx := context.Background()
			dsn := connStr()
			resetTables(ctx, dsn)

			store, err := postgres.NewStore(ctx, postgres.Config{DSN: dsn}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			return store
		})
	})
})
