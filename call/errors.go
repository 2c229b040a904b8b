package call

import "errors"

// Setup zincirinin ve public API'nin döndüğü error'lar.
// Hepsi errors.Is ile karşılaştırılır; detay fmt.Errorf("%w: ...") ile eklenir.
var (
	// ErrPermissionDenied: kamera/mikrofon yakalanamadı (izin yok veya cihaz yok).
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrCredential: backend oda token'ı veremedi.
	ErrCredential = errors.New("room credential unavailable")
	// ErrRoomSetup: media engine odaya katılamadı veya yayın yapamadı.
	ErrRoomSetup = errors.New("room setup failed")
	// ErrSignaling: signaling kanalına event yazılamadı.
	ErrSignaling = errors.New("signaling unavailable")

	ErrCallInProgress    = errors.New("call already in progress")
	ErrNoPendingInvite   = errors.New("no pending invite")
	ErrSetupAborted      = errors.New("call ended during setup")
	ErrClosed            = errors.New("call manager closed")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// IsAborted, StartCall/AcceptCall'un hata yüzünden değil başka bir olay (EndCall,
// uzak sonlandırma, Close) yüzünden durduğunu söyler. Bu durumda Notice üretilmez.
func IsAborted(err error) bool {
	return errors.Is(err, ErrSetupAborted) || errors.Is(err, ErrClosed)
}
