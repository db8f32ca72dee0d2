// Package contracts holds the ABI of the deployed collection contract.
package contracts

// CitaNFTABI covers the subset of the collection contract the client reads and writes.
const CitaNFTABI = `[
  {"inputs":[],"name":"presaleStarted","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"presaleEnded","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"tokenIds","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"maxTokenIds","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"owner","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"startPresale","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"mint","outputs":[],"stateMutability":"payable","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"from","type":"address"},
    {"indexed":true,"internalType":"address","name":"to","type":"address"},
    {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}
  ],"name":"Transfer","type":"event"}
]`
