package market

import "errors"

// Business-rule failures the API layer renders to the player. Integrity
// failures (missing catalog data, absent price sources) are wrapped with
// fmt.Errorf instead and surface as server errors.
var (
	ErrOfferNotFound     = errors.New("offer not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrEmptyItems        = errors.New("sell request contains no items")
	ErrEmptyRequirements = errors.New("sell request contains no requirements")
	ErrUnknownOfferType  = errors.New("unknown offer type")
	ErrItemNotFound      = errors.New("item not found in seller inventory")
	ErrCannotPayTax      = errors.New("cannot pay listing tax")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOutOfStock        = errors.New("offer out of stock")
	ErrLoyaltyTooLow     = errors.New("trader loyalty level too low")
	ErrFleaLocked        = errors.New("flea market not unlocked at this level")
	ErrFleaBanned        = errors.New("item template is banned from the flea market")
	ErrNotOfferOwner     = errors.New("not the offer owner")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrConflictingSearch = errors.New("linked and required search are mutually exclusive")
	ErrNoPrice           = errors.New("no price source for template")
)
