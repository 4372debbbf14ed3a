package services

import (
	"io"
	"os"
	"testing"

	"github.com/google/logger"
)

func TestMain(m *testing.M) {
	logger.Init("raffle-oracle-test", false, false, io.Discard)
	os.Exit(m.Run())
}
