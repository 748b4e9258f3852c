package governance

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	CodeInvalidBallot     = ErrorCode("InvalidBallot")
	CodeInvalidWeights    = ErrorCode("InvalidWeights")
	CodeInvalidKeyword    = ErrorCode("InvalidKeyword")
	CodeInvalidRequest    = ErrorCode("InvalidRequest")
	CodeVotingClosed      = ErrorCode("VotingClosed")
	CodeVotingAlreadyOpen = ErrorCode("VotingAlreadyOpen")
	CodeResultsPending    = ErrorCode("ResultsPending")
	CodeWrongPhase        = ErrorCode("WrongPhase")
	CodeDuplicateKeyword  = ErrorCode("DuplicateKeyword")
	CodeKeywordNotFound   = ErrorCode("KeywordNotFound")
	CodeInsufficientVotes = ErrorCode("InsufficientVotes")
	CodeNoCurrentEpoch    = ErrorCode("NoCurrentEpoch")
	CodeEpochNotFound     = ErrorCode("EpochNotFound")
	CodeNoScheduledVote   = ErrorCode("NoScheduledVote")
	CodeBallotNotFound    = ErrorCode("BallotNotFound")
)

// Error is a governance failure that is reported to callers with a stable code.
// Two errors match under errors.Is when their codes match.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidBallot     = &Error{Code: CodeInvalidBallot, Message: "invalid ballot"}
	ErrInvalidWeights    = &Error{Code: CodeInvalidWeights, Message: "invalid weights"}
	ErrInvalidKeyword    = &Error{Code: CodeInvalidKeyword, Message: "invalid keyword"}
	ErrInvalidRequest    = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrVotingClosed      = &Error{Code: CodeVotingClosed, Message: "voting is not open"}
	ErrVotingAlreadyOpen = &Error{Code: CodeVotingAlreadyOpen, Message: "voting is already open"}
	ErrResultsPending    = &Error{Code: CodeResultsPending, Message: "results are pending review"}
	ErrWrongPhase        = &Error{Code: CodeWrongPhase, Message: "operation not allowed in current phase"}
	ErrDuplicateKeyword  = &Error{Code: CodeDuplicateKeyword, Message: "keyword already present"}
	ErrKeywordNotFound   = &Error{Code: CodeKeywordNotFound, Message: "keyword not present"}
	ErrInsufficientVotes = &Error{Code: CodeInsufficientVotes, Message: "not enough votes"}
	ErrNoCurrentEpoch    = &Error{Code: CodeNoCurrentEpoch, Message: "no current epoch"}
	ErrEpochNotFound     = &Error{Code: CodeEpochNotFound, Message: "epoch not found"}
	ErrNoScheduledVote   = &Error{Code: CodeNoScheduledVote, Message: "no vote is scheduled"}
	ErrBallotNotFound    = &Error{Code: CodeBallotNotFound, Message: "no ballot for this voter"}

	// returned when weight normalization produces a vector that is not a valid distribution
	ErrNormalizationInvariant = errors.New("weight normalization invariant violated")
)

// HTTPStatus maps an error to the status code returned to API clients.
func HTTPStatus(err error) int {
	var gerr *Error
	if !errors.As(err, &gerr) {
		return http.StatusInternalServerError
	}
	switch gerr.Code {
	case CodeInvalidBallot, CodeInvalidWeights, CodeInvalidKeyword, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNoCurrentEpoch, CodeEpochNotFound, CodeKeywordNotFound, CodeNoScheduledVote, CodeBallotNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}
