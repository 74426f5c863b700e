package httpclient

import "github.com/brindlecore/reactor/asyncerr"

var promiseRejectedWithoutError = asyncerr.New(asyncerr.KindUsage, "promise rejected with a non-error reason")
