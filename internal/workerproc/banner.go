package workerproc

import (
	"strings"

	"github.com/corvidwatch/sentryd/internal/kvcodec"
)

// bannerPrefix is the literal command prefix of the worker registration
// banner: "@wproc register name=<name>;pid=<pid>".
const bannerPrefix = "@wproc register "

func encodeBanner(v kvcodec.Vec) string {
	return bannerPrefix + kvcodec.EncodeEkvstr(v)
}

func decodeBanner(s string) (kvcodec.Vec, error) {
	body := strings.TrimPrefix(s, bannerPrefix)
	return kvcodec.DecodeEkvstr(body)
}
