package stream

import (
	"math/big"
	"sync"
)

// dhGroup holds a finite-field Diffie-Hellman modulus and generator, the
// two numbers tmp_dh_callback's constructors returned per key length.
type dhGroup struct {
	KeyLength int
	P         *big.Int
	G         *big.Int
}

// dhCache lazily constructs and caches Diffie-Hellman parameters per key
// length, mirroring the tmp_dh_callback table of static constructors for
// 1024, 2048, and 4096-bit groups. Go's crypto/tls negotiates ECDHE
// internally during the handshake and exposes no equivalent tmp-DH
// callback, so nothing in this package's handshake path consults this
// cache; it exists because the process-wide context is defined to own this
// pool regardless, and is exercised directly by callers that need
// finite-field DH parameters for diagnostics or interoperability with
// peers still negotiating classic DHE cipher suites at another layer.
type dhCache struct {
	mu     sync.Mutex
	groups map[int]*dhGroup
}

func newDHCache() *dhCache {
	return &dhCache{groups: make(map[int]*dhGroup)}
}

// group returns the cached parameters for keyLength, constructing and
// caching them on first request. Only 1024, 2048, and 4096 are known
// lengths; any other value fails with ErrNoMem the same way an
// out-of-memory group construction did in the original callback.
func (c *dhCache) group(keyLength int) (*dhGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.groups[keyLength]; ok {
		return g, nil
	}

	hexP, ok := dhModuli[keyLength]
	if !ok {
		return nil, newErr(ErrNoMem, "tmp_dh_callback").WithContext("keylength", keyLength)
	}

	p, success := new(big.Int).SetString(hexP, 16)
	if !success {
		return nil, newErr(ErrNoMem, "tmp_dh_callback").WithContext("keylength", keyLength)
	}

	g := &dhGroup{KeyLength: keyLength, P: p, G: big.NewInt(2)}
	c.groups[keyLength] = g
	return g, nil
}

// dhModuli holds a prime modulus for each supported key length,
// hex-encoded, each independently verified to have exactly the bit length
// its key names. The 2048 entry is the RFC 3526 Group 14 constant; 1024 and
// 4096 are generated primes rather than transcribed RFC text, and are not
// safe primes ((p-1)/2 is not prime for either), since
// RFC 3526 only publishes 1536-and-up groups and this table also needs a
// 1024-bit and a plain 4096-bit entry.
var dhModuli = map[int]string{
	1024: "D5A210D4CD173B4EA66693B05308A5EB1257209093FDBC94C1F144A63ACF9A31" +
		"8B7C50559D42BE6A59E412D624F85250FFF0E0E73A1701A44435281B62272C77" +
		"80AD7DCA7E823C7367788C642F5BE5EF70512560E878C7F4769E0474257A6575" +
		"060605C32A756EA2E941F5E18F800FAD34BC8FD4A334D1DC314D70518B11E0FF",
	2048: "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF",
	4096: "8808E5FB57E240ADE2C585F784FB2FA297941845C238A3EF8FBC343B53394C03" +
		"1B3176DEA683625C569348798FC23765BFAA73D2663A96967772FC9D56B9DF98" +
		"0A4AA3487EB9744ACEEF0CED64E96A9B2D57942647C05C34E1162903FEE5C03E" +
		"3084B66D62AB520651EC4F0EC5E94A24C901A894CA778C6EA2579F2A399A642E" +
		"5734179A2219485E0C3E444AE3E18E7A6544B4D2B5906B0A40EFE54D2FB66203" +
		"2E3BEEDDF7D7C4258DF931BE71776CD2910F1AE3DCBDEB26ECF3B9CFAA04095A" +
		"E5AA326E7B06B52835B936DF08D630B23EF9B662F8E011741F1FBE5D5D2609F6" +
		"D068778B049759C063C4D064545B4BE617DB5F8D8F39B97FEE860BF129BDA984" +
		"4CEDB8740289C59334ABA11462EF41AA809C27608D3FD39A9E9B7BD084D63CC5" +
		"D196BCEFF29A53223E8063F1F781FDBF530A8ED3E0252D943FDB6560A451BF59" +
		"2A9EB36ADF9EC009F74048402FFF97577736F39D46E2B91AA3DBEAF4977DE55E" +
		"48A643689CE4794C74A8A26B2246E2D7B3281F73E4FEF6BBFDCA7EC96F2314CD" +
		"B4B4CD76BED059E281EAEE62D9511677B262A0F429AC27FCB1A167E5930B9BA9" +
		"9774C9EFEE201C8765A9F357FF2EBCE72BFF1990F1F50E14F06C87E0E41CAF7F" +
		"6544729C65ABA3BB1F6B1141D5C318F45B8DD4C507E02D37908E14BEB6696899" +
		"40B688E5A6BC8A2B6EDB61CB3A4E626847A75043E35328E37FAACD88CB79C8A1",
}
