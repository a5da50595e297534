package buffer

import "errors"

// ErrSinkRejected marks a permanent sink failure.
//
// Sink implementations wrap this sentinel when the sink refused the batch
// outright (malformed data, authorization). The buffer drops rejected
// batches immediately instead of retrying them; retrying a rejected batch
// would block the queue forever behind data the sink will never accept.
var ErrSinkRejected = errors.New("buffer: batch rejected by sink")
