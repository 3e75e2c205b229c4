package backtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSampleFeed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.csv")
	data := `timestamp,symbol,bid,ask,last,volume
1700000000.0,BTC/USDT,42000.00,42010.00,42005.00,125.50
1700000000.0,ETH/USDT,2200.00,2202.00,2201.00,850.25
1700000001.0,BTC/USDT,42005.00,42015.00,42010.00,126.20
1700000002.0,BTC/USDT,42010.00,42020.00,42015.00,127.65
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadFeedParsesAllTicksAndSymbols(t *testing.T) {
	feed, err := LoadFeed(writeSampleFeed(t))
	require.NoError(t, err)

	markets := feed.Markets()
	require.Contains(t, markets, "BTC/USDT")
	require.Contains(t, markets, "ETH/USDT")
	require.Equal(t, 1700000000.0, feed.FirstTimestamp())
	require.Equal(t, 1700000002.0, feed.LastTimestamp())
}

func TestTickerAtReturnsMostRecentTickAtOrBeforeTime(t *testing.T) {
	feed, err := LoadFeed(writeSampleFeed(t))
	require.NoError(t, err)

	ticker, ok := feed.TickerAt("BTC/USDT", 1700000001.5)
	require.True(t, ok)
	require.Equal(t, 42005.0, ticker.Bid)
	require.Equal(t, 42015.0, ticker.Ask)
}

func TestTickerAtReturnsFalseBeforeFirstTick(t *testing.T) {
	feed, err := LoadFeed(writeSampleFeed(t))
	require.NoError(t, err)

	_, ok := feed.TickerAt("BTC/USDT", 1699999999.0)
	require.False(t, ok)
}

func TestTickerAtReturnsFalseForUnknownSymbol(t *testing.T) {
	feed, err := LoadFeed(writeSampleFeed(t))
	require.NoError(t, err)

	_, ok := feed.TickerAt("DOGE/USDT", 1700000002.0)
	require.False(t, ok)
}
