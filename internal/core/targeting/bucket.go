package targeting

import (
	"crypto/md5"
	"encoding/binary"
)

// Bucket deterministically maps a (flagName, subjectKey) pair into [0, 100),
// per spec §4.6's percentage_users rule: H is the first 8 hex characters of
// MD5("{flag_name}:{subject_key}") read as a big-endian uint32, and the
// bucket is H mod 100. The same subject always lands in the same bucket for
// a given flag, so rollout is sticky across evaluations and processes.
func Bucket(flagName, subjectKey string) uint32 {
	sum := md5.Sum([]byte(flagName + ":" + subjectKey))
	h := binary.BigEndian.Uint32(sum[:4])
	return h % 100
}

// InPercentage reports whether subjectKey falls within the first pct
// percent of the bucket space for flagName: match iff H mod 100 < pct.
func InPercentage(flagName, subjectKey string, pct float64) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return float64(Bucket(flagName, subjectKey)) < pct
}
