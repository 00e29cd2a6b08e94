package model

// Location is one half-open time bin of one metric placed on one node.
// The interval is [LowerTS, UpperTS); a timestamp equal to a bin boundary
// belongs to the upper bin.
type Location struct {
	Metric  string
	NodeID  string
	Bin     int64
	LowerTS int64
	UpperTS int64
}

// Contains reports whether ts falls inside the half-open interval.
func (l Location) Contains(ts int64) bool {
	return ts >= l.LowerTS && ts < l.UpperTS
}

// Overlaps reports whether the location intersects the inclusive range [lo, hi].
func (l Location) Overlaps(lo, hi int64) bool {
	return l.LowerTS <= hi && lo < l.UpperTS
}

// BinFor computes the bin index for a timestamp at the given interval,
// using floor division so negative timestamps bin correctly.
func BinFor(ts, interval int64) int64 {
	bin := ts / interval
	if ts%interval != 0 && (ts < 0) != (interval < 0) {
		bin--
	}
	return bin
}

// LocationFor builds the location covering ts, without placement.
func LocationFor(metric string, ts, interval int64) Location {
	bin := BinFor(ts, interval)
	return Location{
		Metric:  metric,
		Bin:     bin,
		LowerTS: bin * interval,
		UpperTS: bin*interval + interval,
	}
}

// MetricInfo carries per-metric shard interval and retention. Retention of
// zero keeps data forever. Mutation is append-only per metric: once set, the
// shard boundaries are frozen.
type MetricInfo struct {
	Metric        string
	ShardInterval int64 // bin width in milliseconds
	Retention     int64 // retention window in milliseconds, 0 = keep forever
}
