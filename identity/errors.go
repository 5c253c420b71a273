package identity

import (
	goerrors "github.com/goliatone/go-errors"
	portal "github.com/goliatone/go-portal"
)

var (
	ErrInvalidCredentials = portal.NewError(portal.KindInvalidCredentials, "E-mail ou senha inválidos")

	ErrTooManyLoginAttempts = portal.NewError(portal.KindInvalidCredentials, "Demasiadas tentativas de login. Tente novamente mais tarde.").
				WithMetadata(map[string]any{"reason": goerrors.TextCodeTooManyAttempts})

	ErrEmailAlreadyRegistered = portal.NewError(portal.KindEmailAlreadyRegistered, "Este e-mail já está registado")

	ErrEmailNotConfirmed = portal.NewError(portal.KindEmailNotConfirmed, "E-mail ainda não confirmado")

	ErrSessionNotFound = portal.NewError(portal.KindUnauthenticated, "Sessão inválida ou expirada").
				WithMetadata(map[string]any{"reason": goerrors.TextCodeSessionNotFound})

	ErrTokenExpired = portal.NewError(portal.KindUnauthenticated, "Sessão expirada").
			WithMetadata(map[string]any{"reason": goerrors.TextCodeTokenExpired})

	ErrTokenMalformed = portal.NewError(portal.KindUnauthenticated, "Token de sessão inválido").
				WithMetadata(map[string]any{"reason": goerrors.TextCodeTokenMalformed})

	ErrCurrentPasswordMismatch = portal.NewError(portal.KindInvalidCredentials, "A senha atual está incorreta")

	ErrLinkInvalid = goerrors.New("link inválido ou expirado", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithTextCode("LINK_INVALID")

	ErrLinkUsed = goerrors.New("este link já foi utilizado", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithTextCode(goerrors.TextCodeTokenAlreadyUsed)

	ErrLinkExpired = goerrors.New("este link expirou", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(goerrors.TextCodeVerificationExpired)

	ErrEmptyPassword = goerrors.New("password must not be empty", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest).
				WithTextCode(goerrors.TextCodeEmptyPassword)
)

// richError returns a clone of a sentinel with extra metadata so callers
// never mutate the shared value.
func richError(sentinel *goerrors.Error, meta map[string]any) *goerrors.Error {
	out := sentinel.Clone()
	if len(meta) > 0 {
		out = out.WithMetadata(meta)
	}
	return out
}
