package state

var (
	tokenMintPrefix      = []byte("token/mint/")
	tokenAccountPrefix   = []byte("token/account/")
	escrowOrderPrefix    = []byte("escrow/order/")
	escrowSequencePrefix = []byte("escrow/sequence/")
	escrowVaultPrefix    = []byte("escrow/vault/")
	txPrefix             = []byte("tx/")
)
