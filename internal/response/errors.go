package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation      ErrCode = "VALIDATION_ERROR"
	ErrInvalidID       ErrCode = "INVALID_ID"
	ErrInvalidPayload  ErrCode = "INVALID_PAYLOAD"
	ErrUnknownQuestion ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidAnswer   ErrCode = "INVALID_ANSWER"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam window ───────────────────────────────────────────────────
	ErrExamNotAvailable ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamNotOpen      ErrCode = "EXAM_NOT_OPEN"
	ErrExamClosed       ErrCode = "EXAM_CLOSED"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrInvalidTransition     ErrCode = "INVALID_TRANSITION"
	ErrNotInProgress         ErrCode = "ATTEMPT_NOT_IN_PROGRESS"
	ErrConsentRequired       ErrCode = "CONSENT_REQUIRED"
	ErrConsentReasonRequired ErrCode = "CONSENT_REASON_REQUIRED"
	ErrAnswersFrozen         ErrCode = "ANSWERS_FROZEN"
	ErrSubmitInFlight        ErrCode = "SUBMIT_IN_FLIGHT"
	ErrAlreadySubmitted      ErrCode = "ALREADY_SUBMITTED"
	ErrSubmissionFailed      ErrCode = "SUBMISSION_FAILED"
	ErrAttemptClosed         ErrCode = "ATTEMPT_CLOSED"
	ErrResultNotReady        ErrCode = "RESULT_NOT_READY"
	ErrFullscreenUnavailable ErrCode = "FULLSCREEN_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Periksa kembali data yang dikirim."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Format data tidak valid."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada ujian ini."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Data tidak ditemukan."
	case ErrConflict:
		return "Data sudah ada atau terjadi konflik."

	// ─── Exam window ───────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian tidak tersedia."
	case ErrExamNotOpen:
		return "Ujian belum dimulai."
	case ErrExamClosed:
		return "Waktu ujian telah berakhir."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrInvalidTransition:
		return "Aksi tidak dapat dilakukan pada status ujian saat ini."
	case ErrNotInProgress:
		return "Ujian belum berlangsung."
	case ErrConsentRequired:
		return "Persetujuan pemantauan harus diisi sebelum memulai ujian."
	case ErrConsentReasonRequired:
		return "Alasan wajib diisi jika pemantauan dinonaktifkan."
	case ErrAnswersFrozen:
		return "Jawaban sudah dikunci dan tidak dapat diubah."
	case ErrSubmitInFlight:
		return "Pengumpulan jawaban sedang diproses."
	case ErrAlreadySubmitted:
		return "Jawaban sudah dikumpulkan."
	case ErrSubmissionFailed:
		return "Pengumpulan jawaban gagal. Jawaban Anda telah diamankan untuk diproses ulang."
	case ErrAttemptClosed:
		return "Sesi ujian ini sudah berakhir."
	case ErrResultNotReady:
		return "Hasil ujian belum tersedia."
	case ErrFullscreenUnavailable:
		return "Mode layar penuh tidak dapat diaktifkan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan internal. Silakan coba lagi."

	default:
		return "Terjadi kesalahan."
	}
}
